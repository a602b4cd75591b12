package train

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/malbeclabs/medallion/pkg/artifact"
	"github.com/malbeclabs/medallion/pkg/duck"
	"github.com/malbeclabs/medallion/pkg/metrics"
	"github.com/malbeclabs/medallion/pkg/model"
	"github.com/malbeclabs/medallion/pkg/pipeline"
)

const (
	ModelFile   = "fraud_detection_model.gob"
	ColumnsFile = "model_columns.json"

	DefaultExtractFraction = 0.5
	DefaultTestFraction    = 0.3
	DefaultSeed            = 42
	DefaultNEstimators     = 100
)

type Config struct {
	Logger *slog.Logger
	Runner *pipeline.Runner
	// Gold is the stage whose relation is trained on. It is ensured first.
	Gold pipeline.Stage
	// Store receives the model and its column list.
	Store artifact.Store
	// Mirror, if set, receives a copy of both artifacts after Store.
	Mirror artifact.Store
	// Output receives the evaluation report. Defaults to stdout.
	Output io.Writer

	// ExtractFraction is the share of gold rows sampled for training. Values
	// of 1 or more read the whole relation.
	ExtractFraction float64
	TestFraction    float64
	// Seed drives the split and the forest. Zero is a valid seed.
	Seed        uint64
	NEstimators int
	// MaxDepth limits tree depth. Zero grows trees until their leaves are pure.
	MaxDepth int
	// MaxFeatures is the number of features tried per split. Zero means
	// sqrt of the feature count.
	MaxFeatures    int
	MinSamplesLeaf int
	// DisableBootstrap fits every tree on all training rows.
	DisableBootstrap bool
	// Workers bounds concurrent tree fitting. Zero means GOMAXPROCS.
	Workers int

	LabelColumn        string
	ExcludeColumns     []string
	CategoricalColumns []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	if cfg.Gold == nil {
		return errors.New("gold stage is required")
	}
	if cfg.Store == nil {
		return errors.New("artifact store is required")
	}

	// Optional with default
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.ExtractFraction == 0 {
		cfg.ExtractFraction = DefaultExtractFraction
	}
	if cfg.ExtractFraction < 0 {
		return fmt.Errorf("extract fraction must be positive, got %v", cfg.ExtractFraction)
	}
	if cfg.TestFraction == 0 {
		cfg.TestFraction = DefaultTestFraction
	}
	if cfg.TestFraction < 0 || cfg.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in (0, 1), got %v", cfg.TestFraction)
	}
	if cfg.NEstimators == 0 {
		cfg.NEstimators = DefaultNEstimators
	}
	if cfg.NEstimators < 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", cfg.NEstimators)
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative, got %d", cfg.MaxDepth)
	}
	if cfg.MaxFeatures < 0 {
		return fmt.Errorf("max features must not be negative, got %d", cfg.MaxFeatures)
	}
	if cfg.MinSamplesLeaf < 0 {
		return fmt.Errorf("min samples leaf must not be negative, got %d", cfg.MinSamplesLeaf)
	}
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = DefaultLabelColumn
	}
	if cfg.ExcludeColumns == nil {
		cfg.ExcludeColumns = DefaultExcludeColumns
	}
	if cfg.CategoricalColumns == nil {
		cfg.CategoricalColumns = DefaultCategoricalColumns
	}
	return nil
}

// Artifact is the outcome of a training run.
type Artifact struct {
	Model   *model.RandomForest
	Columns []string
	Report  *model.Report

	ExtractRows int
	TrainRows   int
	TestRows    int
	// Locations lists where the model and column files were written.
	Locations []string
}

type Trainer struct {
	log     *slog.Logger
	cfg     Config
	encoder *Encoder
}

func New(cfg Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{
		log: cfg.Logger,
		cfg: cfg,
		encoder: &Encoder{
			Label:       cfg.LabelColumn,
			Exclude:     cfg.ExcludeColumns,
			Categorical: cfg.CategoricalColumns,
		},
	}, nil
}

// Train ensures the gold relation, fits a classifier on a sample of it,
// prints its evaluation and persists it. Evaluation never fails a run.
func (t *Trainer) Train(ctx context.Context) (*Artifact, error) {
	gold, err := t.cfg.Runner.Ensure(ctx, t.cfg.Gold)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	frame, err := t.extract(ctx, gold.Relation)
	if err != nil {
		return nil, err
	}
	t.log.Info("train: loaded extract", "relation", gold.Relation.String(), "rows", frame.Len(), "fraction", t.cfg.ExtractFraction)
	if frame.Len() == 0 {
		return nil, fmt.Errorf("%w: extract of %s is empty", pipeline.ErrInsufficientData, gold.Relation)
	}

	ds, err := t.encoder.Encode(frame)
	if err != nil {
		return nil, err
	}
	t.log.Debug("train: encoded features", "features", len(ds.Columns))

	trainIdx, testIdx, err := StratifiedSplit(ds.Y, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, err
	}
	Xtrain, ytrain := ds.Subset(trainIdx)
	Xtest, ytest := ds.Subset(testIdx)

	t.log.Info("train: fitting random forest", "train_rows", len(ytrain), "test_rows", len(ytest), "estimators", t.cfg.NEstimators)
	opts := []model.Option{
		model.WithNEstimators(t.cfg.NEstimators),
		model.WithSeed(t.cfg.Seed),
		model.WithWorkers(t.cfg.Workers),
		model.WithMaxDepth(t.cfg.MaxDepth),
		model.WithMaxFeatures(t.cfg.MaxFeatures),
		model.WithBootstrap(!t.cfg.DisableBootstrap),
	}
	if t.cfg.MinSamplesLeaf > 0 {
		opts = append(opts, model.WithMinSamplesLeaf(t.cfg.MinSamplesLeaf))
	}
	forest := model.NewRandomForest(opts...)
	if err := forest.Fit(ctx, Xtrain, ytrain); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	predicted, err := forest.Predict(Xtest)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	report, err := model.Evaluate(ytest, predicted)
	if err != nil {
		return nil, fmt.Errorf("train: failed to evaluate: %w", err)
	}
	PrintReport(t.cfg.Output, report)

	art := &Artifact{
		Model:       forest,
		Columns:     ds.Columns,
		Report:      report,
		ExtractRows: frame.Len(),
		TrainRows:   len(ytrain),
		TestRows:    len(ytest),
	}
	if err := t.persist(ctx, art); err != nil {
		return nil, err
	}

	metrics.TrainingRows.WithLabelValues("extract").Set(float64(art.ExtractRows))
	metrics.TrainingRows.WithLabelValues("train").Set(float64(art.TrainRows))
	metrics.TrainingRows.WithLabelValues("test").Set(float64(art.TestRows))
	metrics.ModelAccuracy.Set(report.Accuracy)

	t.log.Info("train: model saved", "locations", art.Locations, "accuracy", report.Accuracy)
	return art, nil
}

func (t *Trainer) extract(ctx context.Context, rel duck.Relation) (*duck.Frame, error) {
	conn, err := t.cfg.Runner.DB().Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := "SELECT * FROM " + rel.String()
	if t.cfg.ExtractFraction < 1 {
		pct := strconv.FormatFloat(t.cfg.ExtractFraction*100, 'f', -1, 64)
		query += " TABLESAMPLE " + pct + " PERCENT (bernoulli)"
	}
	frame, err := duck.QueryFrame(ctx, conn, query)
	if err != nil {
		return nil, fmt.Errorf("train: failed to extract %s: %w", rel, err)
	}
	return frame, nil
}

func (t *Trainer) persist(ctx context.Context, art *Artifact) error {
	var modelBuf bytes.Buffer
	if err := art.Model.Encode(&modelBuf); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	columns, err := json.MarshalIndent(art.Columns, "", "  ")
	if err != nil {
		return fmt.Errorf("train: failed to encode columns: %w", err)
	}

	stores := []artifact.Store{t.cfg.Store}
	if t.cfg.Mirror != nil {
		stores = append(stores, t.cfg.Mirror)
	}
	files := []struct {
		name string
		body []byte
	}{
		{ModelFile, modelBuf.Bytes()},
		{ColumnsFile, columns},
	}
	for _, store := range stores {
		for _, f := range files {
			location, err := store.Put(ctx, f.name, f.body)
			if err != nil {
				return fmt.Errorf("train: failed to save %s: %w", f.name, err)
			}
			art.Locations = append(art.Locations, location)
		}
	}
	return nil
}

// LoadColumns reads the feature column list saved next to a model.
func LoadColumns(ctx context.Context, store artifact.Store) ([]string, error) {
	body, err := store.Get(ctx, ColumnsFile)
	if err != nil {
		return nil, err
	}
	var columns []string
	if err := json.Unmarshal(body, &columns); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ColumnsFile, err)
	}
	return columns, nil
}

// LoadModel reads a model saved by Train.
func LoadModel(ctx context.Context, store artifact.Store) (*model.RandomForest, error) {
	body, err := store.Get(ctx, ModelFile)
	if err != nil {
		return nil, err
	}
	return model.Decode(bytes.NewReader(body))
}
