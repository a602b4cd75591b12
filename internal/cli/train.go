package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/medallion/pkg/artifact"
	"github.com/malbeclabs/medallion/pkg/config"
	"github.com/malbeclabs/medallion/pkg/train"
)

type TrainCmd struct{}

func NewTrainCmd() *TrainCmd {
	return &TrainCmd{}
}

func (c *TrainCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the fraud classifier on a sample of the gold relation",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			store, err := artifact.NewLocalStore(a.cfg.ModelDir)
			if err != nil {
				return err
			}
			var mirror artifact.Store
			if a.cfg.ArtifactURI != "" {
				mirror, err = artifact.NewStore(ctx, a.log, a.cfg.ArtifactURI)
				if err != nil {
					return err
				}
			}

			trainer, err := train.New(train.Config{
				Logger:           a.log,
				Runner:           a.runner,
				Gold:             a.gold,
				Store:            store,
				Mirror:           mirror,
				Output:           cmd.OutOrStdout(),
				ExtractFraction:  a.cfg.ExtractFraction,
				TestFraction:     a.cfg.TestFraction,
				Seed:             a.cfg.Seed,
				NEstimators:      a.cfg.NEstimators,
				MaxDepth:         a.cfg.MaxDepth,
				MaxFeatures:      a.cfg.MaxFeatures,
				MinSamplesLeaf:   a.cfg.MinSamplesLeaf,
				DisableBootstrap: !a.cfg.Bootstrap,
				Workers:          a.cfg.Workers,
			})
			if err != nil {
				return err
			}

			if _, err := trainer.Train(ctx); err != nil {
				a.log.Error("cli: training failed", "error", err)
				return err
			}
			return nil
		},
	}

	config.RegisterTrainFlags(cmd.Flags())
	return cmd
}
