package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	fapctl "github.com/axondata/go-fapctl"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print daemon status changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			client, err := ctx.serviceClient()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			wc, err := fapctl.Watch(cmd.Context(), client, func(status fapctl.ServiceStatus) {
				fmt.Fprintf(out, "[%s] %s %s\n", time.Now().Format("15:04:05"), client.ServiceName, status)
			},
				fapctl.WithInterval(cfg.WatchInterval()),
				fapctl.WithWakePath(cfg.Watch.WakePath),
				fapctl.WithWatchLogger(logger),
			)
			if err != nil {
				return fmt.Errorf("failed to start watching: %w", err)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case <-sigs:
					wc.Kill()
				case <-wc.Done():
				}
			}()

			<-wc.Done()
			return wc.Wait()
		},
	}
}
