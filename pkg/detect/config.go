package detect

import (
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config manages detection settings using Viper.
type Config struct {
	v *viper.Viper
}

// NewConfig creates a configuration with defaults. Every key can be
// overridden from the environment as DOMINO_<SECTION>_<KEY>.
func NewConfig() *Config {
	v := viper.New()

	v.SetDefault("model.mode", "binary")
	v.SetDefault("model.degree_corrected", false)
	v.SetDefault("model.init", InitIdentity)

	v.SetDefault("algorithm.max_outer", 5)
	v.SetDefault("algorithm.theta", 0.0)
	v.SetDefault("algorithm.gamma", 0.0)
	v.SetDefault("algorithm.macro_merge", false)
	v.SetDefault("algorithm.target_k", 0)
	v.SetDefault("algorithm.random_seed", 42)
	v.SetDefault("algorithm.fix_x", true)

	v.SetDefault("leiden.max_levels", 20)
	v.SetDefault("leiden.max_sweeps", 100)
	v.SetDefault("leiden.randomize", true)

	v.SetDefault("solver.max_iterations", 1000)
	v.SetDefault("solver.tolerance", 1e-8)

	v.SetDefault("performance.num_workers", runtime.NumCPU())

	v.SetDefault("logging.level", "info")

	v.SetDefault("output.layout", false)
	v.SetDefault("output.report", false)

	v.SetEnvPrefix("domino")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Viper exposes the underlying store so that command-line flags can be bound to it.
func (c *Config) Viper() *viper.Viper { return c.v }

func (c *Config) Mode() string { return c.v.GetString("model.mode") }
func (c *Config) DegreeCorrected() bool { return c.v.GetBool("model.degree_corrected") }
func (c *Config) Init() string { return c.v.GetString("model.init") }

func (c *Config) MaxOuter() int { return c.v.GetInt("algorithm.max_outer") }
func (c *Config) Theta() float64 { return c.v.GetFloat64("algorithm.theta") }
func (c *Config) Gamma() float64 { return c.v.GetFloat64("algorithm.gamma") }
func (c *Config) MacroMerge() bool { return c.v.GetBool("algorithm.macro_merge") }
func (c *Config) TargetK() int { return c.v.GetInt("algorithm.target_k") }
func (c *Config) RandomSeed() uint64 { return c.v.GetUint64("algorithm.random_seed") }
func (c *Config) FixFactors() bool { return c.v.GetBool("algorithm.fix_x") }
func (c *Config) MaxLevels() int { return c.v.GetInt("leiden.max_levels") }
func (c *Config) MaxSweeps() int { return c.v.GetInt("leiden.max_sweeps") }
func (c *Config) Randomize() bool { return c.v.GetBool("leiden.randomize") }
func (c *Config) SolverMaxIter() int { return c.v.GetInt("solver.max_iterations") }
func (c *Config) SolverTol() float64 { return c.v.GetFloat64("solver.tolerance") }
func (c *Config) NumWorkers() int { return c.v.GetInt("performance.num_workers") }
func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }
func (c *Config) Layout() bool { return c.v.GetBool("output.layout") }
func (c *Config) Report() bool { return c.v.GetBool("output.report") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// CreateLogger creates a zerolog logger based on config. Logs go to stderr so
// that results written to stdout stay machine readable.
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "domino").Logger()
}

// Options converts the configuration into detection options. A target_k of
// zero means no target.
func (c *Config) Options() Options {
	opts := DefaultOptions()
	opts.Mode = c.Mode()
	opts.DegreeCorrected = c.DegreeCorrected()
	opts.Init = c.Init()
	opts.Theta = c.Theta()
	opts.Gamma = c.Gamma()
	opts.MaxOuter = c.MaxOuter()
	opts.MacroMerge = c.MacroMerge()
	if k := c.TargetK(); k != 0 {
		opts.TargetK = Int(k)
	}
	opts.FixFactors = Bool(c.FixFactors())
	opts.Seed = c.RandomSeed()
	opts.Workers = c.NumWorkers()

	opts.Leiden.MaxLevels = c.MaxLevels()
	opts.Leiden.MaxSweeps = c.MaxSweeps()
	opts.Leiden.Randomize = c.Randomize()

	opts.Solver.MaxIterations = c.SolverMaxIter()
	opts.Solver.Tolerance = c.SolverTol()

	opts.Logger = c.CreateLogger()
	return opts
}
