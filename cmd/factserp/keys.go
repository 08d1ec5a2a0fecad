package main

import (
	"fmt"

	"github.com/pbaille/factserp/internal/auth"
	"github.com/spf13/cobra"
)

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	cmd.AddCommand(keyCreateCmd(), keyListCmd(), keyRevokeCmd())
	return cmd
}

func keyCreateCmd() *cobra.Command {
	var user, email, name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			k, err := auth.NewGate(s, nil).CreateKey(cmd.Context(), user, email, name)
			if err != nil {
				return err
			}

			fmt.Printf("Created key %q for %s <%s>\n", k.Name, k.UserName, k.Email)
			fmt.Printf("API key: %s\n", k.Key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "user email")
	cmd.Flags().StringVarP(&name, "name", "n", "", "key name (default \""+auth.DefaultKeyName+"\")")
	return cmd
}

func keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issued API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := auth.NewGate(s, nil).ListKeys(cmd.Context())
			if err != nil {
				return err
			}

			if len(keys) == 0 {
				fmt.Println("No API keys yet. Use 'factserp key create' to issue one.")
				return nil
			}

			for _, k := range keys {
				status := "active"
				if !k.IsActive {
					status = "revoked"
				}
				lastUsed := "never"
				if k.LastUsed != nil {
					lastUsed = k.LastUsed.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s...  %-8s %-20s %-24s uses=%d last=%s\n",
					k.Key[:8], status, truncate(k.Name, 20), truncate(k.Email, 24), k.UsageCount, lastUsed)
			}
			return nil
		},
	}
}

func keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [key]",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := auth.NewGate(s, nil).Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Key revoked")
			return nil
		},
	}
}
