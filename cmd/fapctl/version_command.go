package main

import (
	"fmt"

	"github.com/spf13/cobra"

	fapctl "github.com/axondata/go-fapctl"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := fapctl.GetVersion()
			fmt.Fprintf(cmd.OutOrStdout(), "fapctl %s (%s via %s)\n", info.Version, info.Service, info.Backend)
			return nil
		},
	}
}
