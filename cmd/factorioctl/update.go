package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/factorioctl/internal/updatecheck"
)

func newCheckUpdateCmd() *cobra.Command {
	var installed string
	cmd := &cobra.Command{
		Use:   "check-update",
		Short: "Query factorio.com for the latest stable headless release",
		RunE: func(cmd *cobra.Command, args []string) error {
			latest, err := updatecheck.Checker{}.LatestHeadless(cmd.Context())
			if err != nil {
				return err
			}
			if installed != "" && installed != latest {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "update available: %s -> %s\n", installed, latest)
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), latest)
			return err
		},
	}
	cmd.Flags().StringVar(&installed, "installed", "", "installed version to compare against")
	return cmd
}
