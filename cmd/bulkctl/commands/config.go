package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bulkdata/engine/internal/cli/output"
	"github.com/bulkdata/engine/pkg/bulkdata"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved engine configuration",
	Long: `Loads the engine configuration the same way a host process would
(config file, then BULKDATA_* environment overrides, then defaults) and
prints the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bulkdata.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pairs := [][2]string{
			{"default_alignment", fmt.Sprintf("%d", cfg.DefaultAlignment)},
			{"min_stream_size", cfg.MinStreamSize.String()},
			{"stream_workers", fmt.Sprintf("%d", cfg.StreamWorkers)},
			{"cooked", fmt.Sprintf("%t", cfg.Cooked)},
			{"multithreading_available", fmt.Sprintf("%t", cfg.MultithreadingAvailable)},
			{"load_policy.force_single_use_on_cooked_load", fmt.Sprintf("%t", cfg.LoadPolicy.ForceSingleUseOnCookedLoad)},
		}
		return output.SimpleTable(cmd.OutOrStdout(), pairs)
	},
}
