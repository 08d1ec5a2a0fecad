package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/ident"
	"github.com/pbaille/factserp/internal/ingest"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	var (
		datasets []string
		wipe     bool
		loadOnly bool
		linkOnly bool
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load facts and questions, then link the scraped evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadOnly && linkOnly {
				return errors.New("--load-only and --link-only are exclusive")
			}
			ctx := cmd.Context()

			codec := ident.New(cfg.Families())
			families, err := selectFamilies(codec, datasets)
			if err != nil {
				return err
			}

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Ingest.Workers
			}
			opts := ingest.Options{
				DatasetRoot:  cfg.Data.DatasetRoot,
				DocsRoot:     cfg.Data.DocsRoot,
				SnapshotRoot: cfg.Data.SnapshotRoot,
				Fetchable:    cfg.Ingest.Fetchable,
				Workers:      workers,
				Location:     loc,
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if wipe {
				fmt.Print("Clearing ingested data... ")
				if err := s.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("done")
			}

			total := &ingest.Report{}
			logger := slog.Default()

			if !linkOnly {
				loader := ingest.NewLoader(s, codec, opts, logger)
				for _, fam := range families {
					report, err := loader.Load(ctx, fam)
					total.Merge(report)
					var sde *domain.SourceDataError
					if errors.As(err, &sde) {
						// a missing export only skips its own dataset
						logger.Error("dataset skipped", "dataset", fam.Name, "error", err)
						total.Add(err)
						continue
					}
					if err != nil {
						return err
					}
					fmt.Printf("Loaded %s: %s\n", fam.Name, report)
				}
			}

			if !loadOnly {
				linker := ingest.NewLinker(s, codec, opts, logger)
				report, err := linker.Link(ctx)
				total.Merge(report)
				if err != nil {
					return fmt.Errorf("link evidence: %w", err)
				}
				fmt.Printf("Linked evidence: %s\n", report)
			}

			fmt.Printf("\nTotal: %s\n", total)
			if samples := total.Samples(); len(samples) > 0 {
				fmt.Printf("\nFirst skipped items:\n")
				for _, msg := range samples {
					fmt.Printf("  - %s\n", truncate(msg, 120))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&datasets, "dataset", "d", nil, "datasets to load (default all configured)")
	cmd.Flags().BoolVar(&wipe, "clear", false, "wipe ingested data first (API keys are kept)")
	cmd.Flags().BoolVar(&loadOnly, "load-only", false, "load facts and questions only")
	cmd.Flags().BoolVar(&linkOnly, "link-only", false, "link evidence only")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "evidence directories linked in parallel (overrides ingest.workers)")
	return cmd
}

func selectFamilies(codec *ident.Codec, names []string) ([]ident.Family, error) {
	if len(names) == 0 {
		return codec.Families(), nil
	}
	out := make([]ident.Family, 0, len(names))
	for _, name := range names {
		fam, ok := codec.Family(name)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		out = append(out, fam)
	}
	return out, nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts of the evidence store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Datasets:      %d\n", st.Datasets)
			fmt.Printf("Facts:         %d\n", st.Facts)
			fmt.Printf("Questions:     %d\n", st.Questions)
			fmt.Printf("Links:         %d\n", st.Links)
			fmt.Printf("SERP contents: %d\n", st.SerpContents)
			fmt.Printf("Snapshots:     %d\n", st.HtmlContents)
			fmt.Printf("Ranked links:  %d\n", st.HtmlContentURLs)
			return nil
		},
	}
}
