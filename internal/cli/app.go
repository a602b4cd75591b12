package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/medallion/pkg/config"
	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/layer/gold"
	"github.com/malbeclabs/medallion/pkg/layer/silver"
	"github.com/malbeclabs/medallion/pkg/logger"
	"github.com/malbeclabs/medallion/pkg/metrics"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

// app wires the store, the stages and the runner for one command invocation.
type app struct {
	log    *slog.Logger
	cfg    config.Config
	db     duck.DB
	runner *pipeline.Runner

	bronze *bronze.Stage
	silver *silver.Stage
	gold   *gold.Stage
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	log := logger.New(verbose)

	configPath, err := cmd.Flags().GetString(config.FlagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bronzeStage, err := bronze.New(bronze.Config{
		Logger:          log,
		PrimarySource:   cfg.PrimarySource,
		SecondarySource: cfg.SecondarySource,
	})
	if err != nil {
		return nil, err
	}
	silverStage, err := silver.New(silver.Config{Logger: log, Bronze: bronzeStage})
	if err != nil {
		return nil, err
	}
	goldStage, err := gold.New(gold.Config{Logger: log, Silver: silverStage})
	if err != nil {
		return nil, err
	}

	db, err := duck.NewDB(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	policy := pipeline.RebuildStale
	if cfg.Force {
		policy = pipeline.RebuildAlways
	}
	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Logger: log,
		DB:     db,
		Policy: policy,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("cli: pipeline ready", "db", cfg.DBPath, "policy", policy.String(), "run_id", runner.RunID())

	return &app{
		log:    log,
		cfg:    cfg,
		db:     db,
		runner: runner,
		bronze: bronzeStage,
		silver: silverStage,
		gold:   goldStage,
	}, nil
}

func (a *app) stage(name string) (pipeline.Stage, error) {
	switch name {
	case bronze.StageName:
		return a.bronze, nil
	case silver.StageName:
		return a.silver, nil
	case gold.StageName:
		return a.gold, nil
	}
	return nil, fmt.Errorf("unknown stage: %s", name)
}

// close releases the store and writes the metrics textfile if one was
// requested.
func (a *app) close() error {
	if err := a.db.Close(); err != nil {
		a.log.Warn("cli: failed to close database", "error", err)
	}
	if a.cfg.MetricsTextfile == "" {
		return nil
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		return err
	}
	a.log.Debug("cli: wrote metrics", "path", a.cfg.MetricsTextfile)
	return nil
}
