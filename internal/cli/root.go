package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/medallion/pkg/config"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/layer/gold"
	"github.com/malbeclabs/medallion/pkg/layer/silver"
	"github.com/malbeclabs/medallion/pkg/metrics"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)

	if err := newRootCmd(info).Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func newRootCmd(info BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "medallion",
		Short:        "Bronze, silver and gold transaction relations and a fraud classifier trained on them.",
		Version:      info.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	config.RegisterPipelineFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewStageCmd(bronze.StageName, "Ingest the source CSV files into the bronze relation").Command(),
		NewStageCmd(silver.StageName, "Build the silver relation, ensuring bronze first").Command(),
		NewStageCmd(gold.StageName, "Build the gold relation, ensuring silver first").Command(),
		NewTrainCmd().Command(),
		NewStatusCmd().Command(),
	)
	return rootCmd
}
