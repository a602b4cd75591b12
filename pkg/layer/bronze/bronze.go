package bronze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

const (
	StageName = "bronze"
	Schema    = "bronze"
	Table     = "bronze_transactions"

	version = "bronze/v1"
)

var Relation = duck.Relation{Schema: Schema, Table: Table}

type Config struct {
	Logger *slog.Logger

	// PrimarySource defines the relation's layout and replaces its contents
	// on every build.
	PrimarySource string
	// SecondarySource is appended after the primary source and must have the
	// same column layout. Optional.
	SecondarySource string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.PrimarySource == "" {
		return errors.New("primary source is required")
	}
	return nil
}

// Stage ingests the raw source files into bronze.bronze_transactions.
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
	return nil
}

func (s *Stage) RequiredColumns() map[duck.Relation][]string {
	return nil
}

func (s *Stage) sources() []string {
	if s.cfg.SecondarySource == "" {
		return []string{s.cfg.PrimarySource}
	}
	return []string{s.cfg.PrimarySource, s.cfg.SecondarySource}
}

func (s *Stage) Fingerprint(ctx context.Context, _ map[string]string) (string, error) {
	return pipeline.FileFingerprint(version, s.sources()...)
}

func (s *Stage) Build(ctx context.Context, conn duck.Connection) error {
	if err := duck.EnsureSchema(ctx, conn, Schema); err != nil {
		return err
	}

	s.log.Info("bronze: ingesting primary source", "path", s.cfg.PrimarySource)
	if err := s.Replace(ctx, conn, s.cfg.PrimarySource); err != nil {
		return err
	}

	if s.cfg.SecondarySource != "" {
		s.log.Info("bronze: appending secondary source", "path", s.cfg.SecondarySource)
		if _, err := s.Append(ctx, conn, s.cfg.SecondarySource); err != nil {
			return err
		}
	}

	count, err := duck.CountRows(ctx, conn, Relation)
	if err != nil {
		return err
	}
	s.log.Info("bronze: ingestion complete", "relation", Relation.String(), "rows", count)
	return nil
}

// Replace drops and recreates the bronze relation from path, inferring
// column types from the file.
func (s *Stage) Replace(ctx context.Context, conn duck.Connection, path string) error {
	if err := checkSource(path); err != nil {
		return err
	}
	if err := duck.ReplaceTableAs(ctx, s.log, conn, Relation, "SELECT * FROM "+duck.ReadCSVAuto(path)); err != nil {
		return fmt.Errorf("%w: %s: %w", pipeline.ErrIngestion, path, err)
	}
	return nil
}

// Append inserts the records of path into the existing bronze relation. It
// does not deduplicate: appending the same file twice adds its rows twice.
func (s *Stage) Append(ctx context.Context, conn duck.Connection, path string) (int64, error) {
	if err := checkSource(path); err != nil {
		return 0, err
	}

	query := "SELECT * FROM " + duck.ReadCSVAuto(path)
	sourceLayout, err := duck.DescribeQuery(ctx, conn, query)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", pipeline.ErrIngestion, path, err)
	}

	exists, err := duck.TableExists(ctx, conn, Relation)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: append target %s does not exist", pipeline.ErrDependency, Relation)
	}
	tableLayout, err := duck.Describe(ctx, conn, Relation)
	if err != nil {
		return 0, err
	}

	want, got := duck.ColumnNames(tableLayout), duck.ColumnNames(sourceLayout)
	if !slices.Equal(want, got) {
		return 0, fmt.Errorf("%w: %s has columns [%s], %s has [%s]",
			pipeline.ErrSchemaMismatch, path, strings.Join(got, ", "), Relation, strings.Join(want, ", "))
	}

	n, err := duck.AppendInto(ctx, s.log, conn, Relation, query)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", pipeline.ErrSchemaMismatch, path, err)
	}
	s.log.Debug("bronze: appended source", "path", path, "rows", n)
	return n, nil
}

func checkSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrIngestion, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", pipeline.ErrIngestion, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrIngestion, err)
	}
	return f.Close()
}
