// Package main is the entry point for the substrate CLI.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "substrate.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "substrate",
	Short: "Cache and observability infrastructure layer",
	Long: `substrate is the shared infrastructure layer: multi-backend caching
(memory, ristretto, redis, tiered), correlation tracking, and an
observability stack (logging, metrics, tracing, health checks).`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile,
		"config file path")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
