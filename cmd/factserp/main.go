package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pbaille/factserp/internal/api"
	"github.com/pbaille/factserp/internal/auth"
	"github.com/pbaille/factserp/internal/config"
	"github.com/pbaille/factserp/internal/content"
	"github.com/pbaille/factserp/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var (
	cfgPath string
	dbPath  string

	settings *viper.Viper
	cfg      *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "factserp",
		Short:         "Search evidence store for fact-checking benchmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()

			v, err := config.New(cfgPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				v.Set("db_path", dbPath)
			}
			c, err := config.Decode(v)
			if err != nil {
				return err
			}
			settings, cfg = v, c
			slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides db_path)")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(datasetsCmd())
	rootCmd.AddCommand(factsCmd())
	rootCmd.AddCommand(questionsCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(serpCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func getStore() (*store.Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(cfg.DBPath)
}

func datasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List active datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			datasets, err := content.NewService(s, 0).ListDatasets(cmd.Context())
			if err != nil {
				return err
			}

			if len(datasets) == 0 {
				fmt.Println("No datasets yet. Use 'factserp ingest' to load some.")
				return nil
			}

			for _, d := range datasets {
				fmt.Printf("%-10s  %s\n", d.Name, truncate(d.Description, 60))
			}
			return nil
		},
	}
}

func factsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "facts [dataset]",
		Short: "List the facts of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			facts, err := content.NewService(s, 0).ListFacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			for i, f := range facts {
				if limit > 0 && i >= limit {
					fmt.Printf("... %d more\n", len(facts)-limit)
					break
				}
				fmt.Println(f.FactID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of facts to show (0 for all)")
	return cmd
}

func questionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "questions [dataset] [fact]",
		Short: "Show the questions of a fact in rank order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			questions, err := content.NewService(s, 0).ListQuestions(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			for _, q := range questions {
				rank := "-"
				if q.Rank != nil {
					rank = strconv.Itoa(*q.Rank)
				}
				marker := ""
				if q.IsMain {
					marker = " (main)"
				}
				fmt.Printf("%3s  %.2f  %s%s\n", rank, q.Score, truncate(q.Text, 70), marker)
			}
			return nil
		},
	}
}

func evidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evidence [dataset] [fact] [rank]",
		Short: "Show the ranked search results of a fetchable question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rank, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid rank %q", args[2])
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ev, err := content.NewService(s, 0).ResolveRank(cmd.Context(), nil, args[0], args[1], rank)
			if err != nil {
				return err
			}

			fmt.Printf("Question: %s\n", ev.Question.Text)
			if ev.Snapshot.Title != "" {
				fmt.Printf("Snapshot: %s\n", ev.Snapshot.Title)
			}
			fmt.Printf("\n")
			for _, l := range ev.Links {
				serp := " "
				if l.HasSerpContent {
					serp = "*"
				}
				fmt.Printf("%3d %s %s\n", l.Rank, serp, l.URL)
				if l.Title != "" {
					fmt.Printf("      %s\n", truncate(l.Title, 70))
				}
			}
			return nil
		},
	}
}

func serpCmd() *cobra.Command {
	var fields string

	cmd := &cobra.Command{
		Use:   "serp [url]",
		Short: "Print the stored SERP content of a URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := content.NewService(s, 0).ResolveURL(cmd.Context(), nil, args[0], content.ParseFields(fields))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}

	cmd.Flags().StringVarP(&fields, "fields", "f", "", "comma separated fields to include (default all)")
	return cmd
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			rl := cfg.Server.RateLimit
			server := api.New(
				content.NewService(s, cfg.Cache.TTL),
				auth.NewGate(s, auth.NewLimiter(rl.RequestsPerSecond, rl.Burst)),
				api.Options{
					Addr:         addr,
					ReadTimeout:  cfg.Server.ReadTimeout,
					WriteTimeout: cfg.Server.WriteTimeout,
					Logger:       slog.Default(),
				},
			)
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides server.addr)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("factserp", version)
		},
	}
}
