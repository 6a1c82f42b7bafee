package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := ctx.controller()
			if err != nil {
				return err
			}
			client, err := ctx.serviceClient()
			if err != nil {
				return err
			}

			status := ctrl.StatusOnline(cmd.Context())
			rows := [][]string{
				{"unit", client.ServiceName + ".service"},
				{"mode", ctrl.Mode().String()},
				{"status", status.String()},
			}
			if detail, err := client.Status(cmd.Context()); err == nil {
				rows = append(rows,
					[]string{"load state", detail.LoadState},
					[]string{"state", detail.String()},
				)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Property", "Value"}, rows))
			return nil
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := ctx.controller()
			if err != nil {
				return err
			}
			if !ctrl.Start(cmd.Context()) {
				return fmt.Errorf("daemon not started (mode %s)", ctrl.Mode())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon %s\n", ctrl.StatusOnline(cmd.Context()))
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := ctx.controller()
			if err != nil {
				return err
			}
			if !ctrl.Stop(cmd.Context()) {
				return fmt.Errorf("daemon not stopped (mode %s)", ctrl.Mode())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon %s\n", ctrl.StatusOnline(cmd.Context()))
			return nil
		},
	}
}
