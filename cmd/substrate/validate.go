package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chanuka/substrate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration file and report every violation found,
not just the first. Exits non-zero when the file is invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d violation(s)\n", cfgFile, len(verr.Violations))
			for _, v := range verr.Violations {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", v)
			}
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return err
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d cache(s) configured)\n", cfgFile, len(cfg.Caches))
	return nil
}
