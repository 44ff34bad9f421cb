package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chanuka/substrate/config"
	"github.com/chanuka/substrate/health"
	"github.com/chanuka/substrate/observability"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one health check pass against the configured backends",
	Long: `Build the full stack from the configuration file, run every
registered health check once, print the per-check reports, and exit
non-zero when any check is unhealthy.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second,
		"overall probe deadline")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadValidated(cfgFile)
	if err != nil {
		return err
	}

	stack, err := observability.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Shutdown(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	overall := stack.Health().Check(ctx)

	out, err := json.MarshalIndent(overall, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if overall.Status == health.StatusUnhealthy {
		cmd.SilenceUsage = true
		return errors.New("one or more checks unhealthy")
	}
	return nil
}
