package silver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/layer/bronze"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

const (
	StageName = "silver"
	Schema    = "silver"
	Table     = "silver_transactions"
)

var Relation = duck.Relation{Schema: Schema, Table: Table}

// Columns added to every bronze row.
const (
	ColumnTransDateTime = "trans_date_time"
	ColumnAge           = "age"
	ColumnTransHour     = "trans_hour"
)

// Age is the difference of calendar years only, so a cardholder whose
// birthday falls later in the transaction year is reported one year older
// than they are. TRY_CAST turns unparseable values into NULL ages and hours
// instead of failing the build.
var transformSQL = `SELECT
	*,
	TRY_CAST(trans_date_trans_time AS TIMESTAMP) AS trans_date_time,
	CAST(date_part('year', TRY_CAST(trans_date_trans_time AS TIMESTAMP)) - date_part('year', TRY_CAST(dob AS DATE)) AS INTEGER) AS age,
	CAST(date_part('hour', TRY_CAST(trans_date_trans_time AS TIMESTAMP)) AS INTEGER) AS trans_hour
FROM ` + bronze.Relation.String()

var version = pipeline.SQLVersion(StageName, transformSQL)

type Config struct {
	Logger *slog.Logger
	Bronze pipeline.Stage
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bronze == nil {
		return errors.New("bronze stage is required")
	}
	return nil
}

// Stage derives silver.silver_transactions from the bronze relation using
// row-local computations only.
type Stage struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stage{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *Stage) Name() string {
	return StageName
}

func (s *Stage) Relation() duck.Relation {
	return Relation
}

func (s *Stage) Dependencies() []pipeline.Stage {
	return []pipeline.Stage{s.cfg.Bronze}
}

func (s *Stage) RequiredColumns() map[duck.Relation][]string {
	return map[duck.Relation][]string{
		bronze.Relation: {"trans_date_trans_time", "dob"},
	}
}

func (s *Stage) Fingerprint(_ context.Context, upstream map[string]string) (string, error) {
	return pipeline.DerivedFingerprint(version, upstream), nil
}

func (s *Stage) Build(ctx context.Context, conn duck.Connection) error {
	s.log.Info("silver: transforming bronze relation", "source", bronze.Relation.String(), "target", Relation.String())
	return duck.ReplaceTableAs(ctx, s.log, conn, Relation, transformSQL)
}
