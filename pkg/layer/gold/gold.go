package gold

import (
	"context"
	"errors"
	"log/slog"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/layer/silver"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

const (
	StageName = "gold"
	Schema    = "gold"
	Table     = "gold_transactions"
)

var Relation = duck.Relation{Schema: Schema, Table: Table}

// Columns added to every silver row.
const (
	ColumnAvgMerchSpend = "avg_merch_spend"
	ColumnPrevTransAmt  = "prev_trans_amt"
	ColumnNextTransAmt  = "next_trans_amt"
)

// The merchant average includes the current row. Lag and lead default to 0
// at partition boundaries, which treats "no neighbouring transaction" the
// same as a zero-amount one. Rows of a card with identical trans_date_time
// have no defined order relative to each other.
var transformSQL = `SELECT
	*,
	AVG(amt) OVER (PARTITION BY merchant) AS avg_merch_spend,
	LAG(amt, 1, 0) OVER (PARTITION BY cc_num ORDER BY trans_date_time) AS prev_trans_amt,
	LEAD(amt, 1, 0) OVER (PARTITION BY cc_num ORDER BY trans_date_time) AS next_trans_amt
FROM ` + silver.Relation.String()

var version = pipeline.SQLVersion(StageName, transformSQL)

type Config struct {
	Logger *slog.Logger
	Silver pipeline.Stage
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Silver == nil {
		return errors.New("silver stage is required")
	}
	return nil
}

// Stage computes per-merchant and per-card window features over the whole
// silver relation into gold.gold_transactions.
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
	return []pipeline.Stage{s.cfg.Silver}
}

func (s *Stage) RequiredColumns() map[duck.Relation][]string {
	return map[duck.Relation][]string{
		silver.Relation: {"amt", "merchant", "cc_num", silver.ColumnTransDateTime},
	}
}

func (s *Stage) Fingerprint(_ context.Context, upstream map[string]string) (string, error) {
	return pipeline.DerivedFingerprint(version, upstream), nil
}

func (s *Stage) Build(ctx context.Context, conn duck.Connection) error {
	s.log.Info("gold: computing window features", "source", silver.Relation.String(), "target", Relation.String())
	return duck.ReplaceTableAs(ctx, s.log, conn, Relation, transformSQL)
}
