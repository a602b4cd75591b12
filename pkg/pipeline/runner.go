package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/metrics"
)

type RebuildPolicy int

const (
	// RebuildStale reuses a relation whose build marker matches the stage's
	// current fingerprint.
	RebuildStale RebuildPolicy = iota
	// RebuildAlways rebuilds every stage in the chain on every call.
	RebuildAlways
)

func (p RebuildPolicy) String() string {
	switch p {
	case RebuildStale:
		return "stale"
	case RebuildAlways:
		return "always"
	}
	return fmt.Sprintf("RebuildPolicy(%d)", int(p))
}

type RunnerConfig struct {
	Logger *slog.Logger
	DB     duck.DB
	Clock  clockwork.Clock
	Policy RebuildPolicy
	RunID  string
}

func (cfg *RunnerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return nil
}

// Runner ensures stages and their dependency chains, one stage at a time.
type Runner struct {
	log *slog.Logger
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (r *Runner) RunID() string {
	return r.cfg.RunID
}

func (r *Runner) DB() duck.DB {
	return r.cfg.DB
}

// Ensure makes sure stage's relation exists and is current, building its
// dependencies first. Failures from dependencies are returned wrapped, so
// errors.Is still matches the original cause.
func (r *Runner) Ensure(ctx context.Context, stage Stage) (RelationHandle, error) {
	upstream := make(map[string]string, len(stage.Dependencies()))
	for _, dep := range stage.Dependencies() {
		h, err := r.Ensure(ctx, dep)
		if err != nil {
			return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
		}
		upstream[dep.Name()] = h.Fingerprint
	}

	fingerprint, err := stage.Fingerprint(ctx, upstream)
	if err != nil {
		return RelationHandle{}, fmt.Errorf("%s: failed to fingerprint: %w", stage.Name(), err)
	}

	conn, err := r.cfg.DB.Conn(ctx)
	if err != nil {
		return RelationHandle{}, err
	}
	defer conn.Close()

	if err := r.checkPreconditions(ctx, conn, stage); err != nil {
		return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
	}

	rel := stage.Relation()
	if r.cfg.Policy == RebuildStale {
		h, ok, err := r.reuse(ctx, conn, stage, fingerprint)
		if err != nil {
			return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
		}
		if ok {
			r.log.Info("pipeline: relation is current, skipping build", "stage", stage.Name(), "relation", rel.String(), "rows", h.Rows)
			metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "skipped").Inc()
			metrics.RelationRows.WithLabelValues(rel.String()).Set(float64(h.Rows))
			return h, nil
		}
	}

	return r.build(ctx, conn, stage, fingerprint)
}

func (r *Runner) build(ctx context.Context, conn duck.Connection, stage Stage, fingerprint string) (RelationHandle, error) {
	rel := stage.Relation()
	start := r.cfg.Clock.Now()
	r.log.Info("pipeline: building stage", "stage", stage.Name(), "relation", rel.String(), "policy", r.cfg.Policy.String())

	// A build may replace the relation and still fail, so the old marker must
	// not outlive the attempt.
	if err := duck.DeleteMarker(ctx, conn, stage.Name()); err != nil {
		metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "error").Inc()
		return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
	}

	if err := stage.Build(ctx, conn); err != nil {
		metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "error").Inc()
		return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
	}

	rows, err := duck.CountRows(ctx, conn, rel)
	if err != nil {
		metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "error").Inc()
		return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
	}

	builtAt := r.cfg.Clock.Now()
	if err := duck.PutMarker(ctx, conn, duck.BuildMarker{
		Stage:       stage.Name(),
		Relation:    rel.String(),
		Fingerprint: fingerprint,
		RowCount:    rows,
		RunID:       r.cfg.RunID,
		BuiltAt:     builtAt,
	}); err != nil {
		metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "error").Inc()
		return RelationHandle{}, fmt.Errorf("%s: %w", stage.Name(), err)
	}

	duration := builtAt.Sub(start)
	metrics.StageBuildsTotal.WithLabelValues(stage.Name(), "success").Inc()
	metrics.StageBuildDuration.WithLabelValues(stage.Name()).Observe(duration.Seconds())
	metrics.RelationRows.WithLabelValues(rel.String()).Set(float64(rows))
	r.log.Info("pipeline: stage built", "stage", stage.Name(), "relation", rel.String(), "rows", rows, "duration", duration.Round(time.Millisecond).String())

	return RelationHandle{
		Relation:    rel,
		Rows:        rows,
		Fingerprint: fingerprint,
	}, nil
}

func (r *Runner) reuse(ctx context.Context, conn duck.Connection, stage Stage, fingerprint string) (RelationHandle, bool, error) {
	marker, err := duck.GetMarker(ctx, conn, stage.Name())
	if err != nil {
		return RelationHandle{}, false, err
	}
	if marker == nil || marker.Fingerprint != fingerprint {
		return RelationHandle{}, false, nil
	}

	rel := stage.Relation()
	exists, err := duck.TableExists(ctx, conn, rel)
	if err != nil || !exists {
		return RelationHandle{}, false, err
	}
	rows, err := duck.CountRows(ctx, conn, rel)
	if err != nil {
		return RelationHandle{}, false, err
	}
	if rows == 0 || rows != marker.RowCount {
		r.log.Debug("pipeline: relation differs from its build marker", "stage", stage.Name(), "rows", rows, "marker_rows", marker.RowCount)
		return RelationHandle{}, false, nil
	}

	return RelationHandle{
		Relation:    rel,
		Rows:        rows,
		Fresh:       true,
		Fingerprint: fingerprint,
	}, true, nil
}

// checkPreconditions verifies that every dependency relation exists and is
// non-empty, and that the columns the stage reads are present.
func (r *Runner) checkPreconditions(ctx context.Context, conn duck.Connection, stage Stage) error {
	for _, dep := range stage.Dependencies() {
		if err := RequireRelation(ctx, conn, dep.Relation()); err != nil {
			return err
		}
	}
	for rel, cols := range stage.RequiredColumns() {
		if err := RequireColumns(ctx, conn, rel, cols); err != nil {
			return err
		}
	}
	return nil
}

// RequireRelation fails with ErrDependency unless rel exists and has rows.
func RequireRelation(ctx context.Context, conn duck.Connection, rel duck.Relation) error {
	exists, err := duck.TableExists(ctx, conn, rel)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: relation %s does not exist", ErrDependency, rel)
	}
	rows, err := duck.CountRows(ctx, conn, rel)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: relation %s is empty", ErrDependency, rel)
	}
	return nil
}

// RequireColumns fails with ErrSchemaContract if any of cols is absent from rel.
func RequireColumns(ctx context.Context, conn duck.Connection, rel duck.Relation, cols []string) error {
	layout, err := duck.Describe(ctx, conn, rel)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", rel, err)
	}
	if missing := duck.MissingColumns(layout, cols); len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing columns %s", ErrSchemaContract, rel, strings.Join(missing, ", "))
	}
	return nil
}
