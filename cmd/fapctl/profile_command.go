package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	fapctl "github.com/axondata/go-fapctl"
)

func newProfileCommand(ctx *commandContext) *cobra.Command {
	var (
		user       string
		dir        string
		env        map[string]string
		stdoutPath string
		stderrPath string
		delay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "profile [flags] -- command [args...]",
		Short: "Run a command with the daemon stopped for profiling",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := ctx.controller()
			if err != nil {
				return err
			}
			var opts []fapctl.RegistryOption
			if cmd.Flags().Changed("delay") {
				opts = append(opts, fapctl.WithStartupDelay(delay))
			}
			reg, err := ctx.registry(ctrl, opts...)
			if err != nil {
				return err
			}

			cfg := fapctl.ProfilingConfig{
				Command:    args[0],
				Args:       args[1:],
				User:       user,
				Dir:        dir,
				Env:        env,
				StdoutPath: stdoutPath,
				StderrPath: stderrPath,
			}

			// service toggling must finish even after an interrupt
			bg := context.WithoutCancel(cmd.Context())

			key, err := reg.StartSession(bg, cfg, "")
			if err != nil {
				return err
			}
			session, _ := reg.Session(key)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if session.Status() != fapctl.SessionQueued {
				select {
				case <-session.Done():
				case <-sigCtx.Done():
					fmt.Fprintln(cmd.ErrOrStderr(), "Terminating target...")
				}
			}

			stopErr := reg.StopSession(bg, key)
			printSession(cmd, session, ctrl)

			if err := session.Err(); err != nil {
				return err
			}
			if stopErr != nil {
				return stopErr
			}
			if code, ok := session.ExitCode(); ok && code != 0 {
				return fmt.Errorf("target exited with status %d", code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User name or uid to run the target as")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Working directory of the target")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "Environment overrides (KEY=VALUE)")
	cmd.Flags().StringVar(&stdoutPath, "stdout", "", "Target stdout log path")
	cmd.Flags().StringVar(&stderrPath, "stderr", "", "Target stderr log path")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Wait before spawning the target (default from config)")

	return cmd
}

func printSession(cmd *cobra.Command, s *fapctl.Session, ctrl *fapctl.Controller) {
	exit := "-"
	if code, ok := s.ExitCode(); ok {
		exit = strconv.Itoa(code)
	}
	ts, _ := ctrl.ProfilingTimestamp()
	cfg := s.Config()

	rows := [][]string{
		{"session", s.Key()},
		{"run id", s.RunID()},
		{"command", cfg.CommandLine()},
		{"status", s.Status().String()},
		{"exit code", exit},
		{"timestamp", ts},
		{"target stdout", cfg.StdoutPath},
		{"target stderr", cfg.StderrPath},
		{"daemon stdout", ctrl.ProfilingStdout()},
		{"daemon stderr", ctrl.ProfilingStderr()},
		{"finished", time.Now().Format(time.RFC3339)},
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(out, []string{"Session", "Value"}, rows))
}
