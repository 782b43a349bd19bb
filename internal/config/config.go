package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DataConfig locates the input datasets. Population rasters and feature
// files are resolved per scope under these directories.
type DataConfig struct {
	PopulationDir string `yaml:"population_dir" mapstructure:"population_dir"`
	FeatureDir    string `yaml:"feature_dir" mapstructure:"feature_dir"`
	BoundaryDir   string `yaml:"boundary_dir" mapstructure:"boundary_dir"`
	RegionsFile   string `yaml:"regions_file" mapstructure:"regions_file"`
}

// AnalysisConfig configures one analysis run: classification policy,
// distance binning, and the unit conversions applied to the distance field.
type AnalysisConfig struct {
	// Policy is "sign" or "threshold". The density threshold applies only
	// under the threshold policy.
	Policy           string  `yaml:"policy" mapstructure:"policy"`
	DensityThreshold float64 `yaml:"density_threshold" mapstructure:"density_threshold"`

	BandBreaks           []float64 `yaml:"band_breaks" mapstructure:"band_breaks"`
	CumulativeThresholds []float64 `yaml:"cumulative_thresholds" mapstructure:"cumulative_thresholds"`

	// ClassField/ClassFilter restrict which features contribute to occupancy,
	// e.g. only "primary, secondary" road classes.
	ClassField  string   `yaml:"class_field" mapstructure:"class_field"`
	ClassFilter []string `yaml:"class_filter" mapstructure:"class_filter"`

	// KmPerDegree converts geographic cell sizes to kilometers for rasters
	// in degree units.
	KmPerDegree float64 `yaml:"km_per_degree" mapstructure:"km_per_degree"`

	// DropModeValue excludes the most frequent raster value, used for
	// datasets whose fill value is undeclared.
	DropModeValue bool `yaml:"drop_mode_value" mapstructure:"drop_mode_value"`

	// BlockFactor coarsens the population raster before analysis when > 1.
	BlockFactor int `yaml:"block_factor" mapstructure:"block_factor"`
}

// ExportConfig configures result exports.
type ExportConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// BatchConfig configures multi-scope processing.
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the results API server.
type ServerConfig struct {
	Port      int     `yaml:"port" mapstructure:"port"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultKmPerDegree is the approximate length of one degree of longitude at
// the equator, used to convert degree-unit cell sizes to kilometers.
const DefaultKmPerDegree = 111.32

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "atlas.db")
	v.SetDefault("data.population_dir", "data/population")
	v.SetDefault("data.feature_dir", "data/features")
	v.SetDefault("data.boundary_dir", "data/boundaries")
	v.SetDefault("analysis.policy", "sign")
	v.SetDefault("analysis.density_threshold", 300)
	v.SetDefault("analysis.band_breaks", []float64{1, 2, 5, 10, 20, 50, 100})
	v.SetDefault("analysis.cumulative_thresholds", defaultThresholds())
	v.SetDefault("analysis.km_per_degree", DefaultKmPerDegree)
	v.SetDefault("analysis.block_factor", 1)
	v.SetDefault("export.dir", "out")
	v.SetDefault("export.formats", []string{"json"})
	v.SetDefault("batch.workers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// defaultThresholds is the 1 km through 100 km cumulative ladder.
func defaultThresholds() []float64 {
	ts := make([]float64, 100)
	for i := range ts {
		ts[i] = float64(i + 1)
	}
	return ts
}

// Validate checks the configuration needed by the given mode ("run",
// "batch", "serve", or "export"). Modes share the analysis checks; batch and
// serve add their own.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch c.Analysis.Policy {
	case "sign":
	case "threshold":
		if c.Analysis.DensityThreshold <= 0 {
			problems = append(problems, "analysis.density_threshold must be > 0 under the threshold policy")
		}
	default:
		problems = append(problems, "analysis.policy must be sign or threshold")
	}
	if !ascending(c.Analysis.BandBreaks) {
		problems = append(problems, "analysis.band_breaks must be positive and strictly ascending")
	}
	if !ascending(c.Analysis.CumulativeThresholds) {
		problems = append(problems, "analysis.cumulative_thresholds must be positive and strictly ascending")
	}
	if c.Analysis.KmPerDegree <= 0 {
		problems = append(problems, "analysis.km_per_degree must be > 0")
	}
	if c.Analysis.BlockFactor < 1 {
		problems = append(problems, "analysis.block_factor must be >= 1")
	}

	switch mode {
	case "run", "export":
	case "batch":
		if c.Batch.Workers < 1 || c.Batch.Workers > 64 {
			problems = append(problems, "batch.workers must be between 1 and 64")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RateLimit <= 0 {
			problems = append(problems, "server.rate_limit must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func ascending(vs []float64) bool {
	if len(vs) == 0 {
		return false
	}
	prev := 0.0
	for _, v := range vs {
		if v <= prev {
			return false
		}
		prev = v
	}
	return true
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
