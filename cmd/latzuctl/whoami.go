package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the platform profile behind --token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				return fmt.Errorf("--token is required")
			}
			cfg, err := opts.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			profile, err := opts.profile(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(opts.out)
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		},
	}
}
