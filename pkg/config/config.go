package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPrimarySource   = "data/fraudTrain.csv"
	DefaultSecondarySource = "data/fraudTest.csv"
	DefaultDBPath          = "data/fraud_detection.duckdb"
	DefaultModelDir        = "models"

	envPrefix = "MEDALLION_"
)

// Config holds every setting of a pipeline run. Values are layered: defaults,
// then the YAML file, then .env and MEDALLION_* environment variables, then
// flags that were set explicitly.
type Config struct {
	PrimarySource   string `yaml:"primary_source"`
	SecondarySource string `yaml:"secondary_source"`
	DBPath          string `yaml:"db_path"`
	Force           bool   `yaml:"force"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	ModelDir        string  `yaml:"model_dir"`
	ArtifactURI     string  `yaml:"artifact_uri"`
	ExtractFraction float64 `yaml:"extract_fraction"`
	TestFraction    float64 `yaml:"test_fraction"`
	Seed            uint64  `yaml:"seed"`
	NEstimators     int     `yaml:"n_estimators"`
	MaxDepth        int     `yaml:"max_depth"`
	MaxFeatures     int     `yaml:"max_features"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	Bootstrap       bool    `yaml:"bootstrap"`
	Workers         int     `yaml:"workers"`
}

func Default() Config {
	return Config{
		PrimarySource:   DefaultPrimarySource,
		SecondarySource: DefaultSecondarySource,
		DBPath:          DefaultDBPath,
		ModelDir:        DefaultModelDir,
		ExtractFraction: 0.5,
		TestFraction:    0.3,
		Seed:            42,
		NEstimators:     100,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and the
// environment. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PRIMARY_SOURCE":   &c.PrimarySource,
		"SECONDARY_SOURCE": &c.SecondarySource,
		"DB_PATH":          &c.DBPath,
		"METRICS_TEXTFILE": &c.MetricsTextfile,
		"MODEL_DIR":        &c.ModelDir,
		"ARTIFACT_URI":     &c.ArtifactURI,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"FORCE":     &c.Force,
		"BOOTSTRAP": &c.Bootstrap,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
	}
	floats := map[string]*float64{
		"EXTRACT_FRACTION": &c.ExtractFraction,
		"TEST_FRACTION":    &c.TestFraction,
	}
	for key, dst := range floats {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = f
		}
	}
	ints := map[string]*int{
		"N_ESTIMATORS":     &c.NEstimators,
		"MAX_DEPTH":        &c.MaxDepth,
		"MAX_FEATURES":     &c.MaxFeatures,
		"MIN_SAMPLES_LEAF": &c.MinSamplesLeaf,
		"WORKERS":          &c.Workers,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "SEED"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sSEED: %w", envPrefix, err)
		}
		c.Seed = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.PrimarySource == "" {
		return errors.New("primary source is required")
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if c.ModelDir == "" {
		return errors.New("model dir is required")
	}
	if c.ExtractFraction <= 0 {
		return fmt.Errorf("extract fraction must be positive, got %v", c.ExtractFraction)
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in (0, 1), got %v", c.TestFraction)
	}
	if c.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", c.NEstimators)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("max_features must not be negative, got %d", c.MaxFeatures)
	}
	if c.MinSamplesLeaf <= 0 {
		return fmt.Errorf("min_samples_leaf must be positive, got %d", c.MinSamplesLeaf)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Flag names shared by the CLI.
const (
	FlagConfig          = "config"
	FlagPrimarySource   = "primary-source"
	FlagSecondarySource = "secondary-source"
	FlagDBPath          = "db-path"
	FlagForce           = "force"
	FlagMetricsTextfile = "metrics-textfile"
	FlagModelDir        = "model-dir"
	FlagArtifactURI     = "artifact-uri"
	FlagExtractFraction = "extract-fraction"
	FlagTestFraction    = "test-fraction"
	FlagSeed            = "seed"
	FlagNEstimators     = "n-estimators"
	FlagMaxDepth        = "max-depth"
	FlagMaxFeatures     = "max-features"
	FlagMinSamplesLeaf  = "min-samples-leaf"
	FlagBootstrap       = "bootstrap"
	FlagWorkers         = "workers"
)

// RegisterPipelineFlags adds the flags every command accepts.
func RegisterPipelineFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "path to a YAML config file")
	fs.String(FlagPrimarySource, d.PrimarySource, "CSV file that defines and replaces the bronze relation")
	fs.String(FlagSecondarySource, d.SecondarySource, "CSV file appended to the bronze relation (empty to skip)")
	fs.String(FlagDBPath, d.DBPath, "path to the DuckDB database file")
	fs.Bool(FlagForce, d.Force, "rebuild every stage even if its inputs are unchanged")
	fs.String(FlagMetricsTextfile, d.MetricsTextfile, "write prometheus metrics to this file on exit")
}

// RegisterTrainFlags adds the flags of the train command.
func RegisterTrainFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagModelDir, d.ModelDir, "directory the model artifacts are written to")
	fs.String(FlagArtifactURI, d.ArtifactURI, "optional s3://bucket/prefix the artifacts are also uploaded to")
	fs.Float64(FlagExtractFraction, d.ExtractFraction, "fraction of gold rows sampled for training (>= 1 reads all)")
	fs.Float64(FlagTestFraction, d.TestFraction, "fraction of the extract held out for evaluation")
	fs.Uint64(FlagSeed, d.Seed, "seed for the split and the forest")
	fs.Int(FlagNEstimators, d.NEstimators, "number of trees in the forest")
	fs.Int(FlagMaxDepth, d.MaxDepth, "maximum tree depth (0 for unlimited)")
	fs.Int(FlagMaxFeatures, d.MaxFeatures, "features tried per split (0 for sqrt of the feature count)")
	fs.Int(FlagMinSamplesLeaf, d.MinSamplesLeaf, "minimum rows in a leaf")
	fs.Bool(FlagBootstrap, d.Bootstrap, "fit each tree on a bootstrap sample of the training rows")
	fs.Int(FlagWorkers, d.Workers, "trees fitted concurrently (0 for one per CPU)")
}

// ApplyFlags overrides c with every flag in fs that was set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil {
			return
		}
		if f := fs.Lookup(name); f != nil && f.Changed {
			err = apply()
		}
	}

	set(FlagPrimarySource, func() (e error) { c.PrimarySource, e = fs.GetString(FlagPrimarySource); return })
	set(FlagSecondarySource, func() (e error) { c.SecondarySource, e = fs.GetString(FlagSecondarySource); return })
	set(FlagDBPath, func() (e error) { c.DBPath, e = fs.GetString(FlagDBPath); return })
	set(FlagForce, func() (e error) { c.Force, e = fs.GetBool(FlagForce); return })
	set(FlagMetricsTextfile, func() (e error) { c.MetricsTextfile, e = fs.GetString(FlagMetricsTextfile); return })
	set(FlagModelDir, func() (e error) { c.ModelDir, e = fs.GetString(FlagModelDir); return })
	set(FlagArtifactURI, func() (e error) { c.ArtifactURI, e = fs.GetString(FlagArtifactURI); return })
	set(FlagExtractFraction, func() (e error) { c.ExtractFraction, e = fs.GetFloat64(FlagExtractFraction); return })
	set(FlagTestFraction, func() (e error) { c.TestFraction, e = fs.GetFloat64(FlagTestFraction); return })
	set(FlagSeed, func() (e error) { c.Seed, e = fs.GetUint64(FlagSeed); return })
	set(FlagNEstimators, func() (e error) { c.NEstimators, e = fs.GetInt(FlagNEstimators); return })
	set(FlagMaxDepth, func() (e error) { c.MaxDepth, e = fs.GetInt(FlagMaxDepth); return })
	set(FlagMaxFeatures, func() (e error) { c.MaxFeatures, e = fs.GetInt(FlagMaxFeatures); return })
	set(FlagMinSamplesLeaf, func() (e error) { c.MinSamplesLeaf, e = fs.GetInt(FlagMinSamplesLeaf); return })
	set(FlagBootstrap, func() (e error) { c.Bootstrap, e = fs.GetBool(FlagBootstrap); return })
	set(FlagWorkers, func() (e error) { c.Workers, e = fs.GetInt(FlagWorkers); return })

	if err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	return nil
}
