// Package config loads the service configuration from conf/config.ini with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"heatsim/calculator"
	"heatsim/job"
)

const DefaultPath = "conf/config.ini"

// Environment variables that override the file.
const (
	EnvAddr       = "HEATSIM_ADDR"
	EnvStorageDir = "HEATSIM_STORAGE_DIR"
	EnvLogLevel   = "HEATSIM_LOG_LEVEL"
)

type Config struct {
	Addr       string
	LogLevel   string
	StorageDir string
	Jobs       job.Config
}

// Load reads path, falling back to defaults when the file does not exist,
// then applies a .env file and HEATSIM_* variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	file, err := ini.Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		log.WithField("path", path).Warn("config file not found, using defaults")
		file = ini.Empty()
	}

	cfg := loadCfg(file)
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func loadCfg(file *ini.File) *Config {
	jobs := job.DefaultConfig()
	calc := jobs.Calculator

	server := file.Section("server")
	logging := file.Section("log")
	storage := file.Section("storage")
	cfg := &Config{
		Addr:       server.Key("addr").MustString(":9000"),
		LogLevel:   logging.Key("level").MustString("info"),
		StorageDir: storage.Key("dir").MustString("data/sessions"),
	}

	sec := file.Section("jobs")
	jobs.Workers = sec.Key("workers").MustInt(jobs.Workers)
	jobs.QueueSize = sec.Key("queue_size").MustInt(jobs.QueueSize)
	jobs.RetentionDone = sec.Key("retention_done").MustDuration(jobs.RetentionDone)
	jobs.RetentionError = sec.Key("retention_error").MustDuration(jobs.RetentionError)
	jobs.SweepInterval = sec.Key("sweep_interval").MustDuration(jobs.SweepInterval)
	jobs.ProgressInterval = sec.Key("progress_interval").MustDuration(jobs.ProgressInterval)
	jobs.ShutdownTimeout = sec.Key("shutdown_timeout").MustDuration(jobs.ShutdownTimeout)
	jobs.SummarySamples = sec.Key("summary_samples").MustInt(jobs.SummarySamples)

	sec = file.Section("limits")
	calc.Limits = calculator.Limits{
		MaxRadialPoints: sec.Key("max_radial_points").MustInt(calc.Limits.MaxRadialPoints),
		MaxAxialPoints:  sec.Key("max_axial_points").MustInt(calc.Limits.MaxAxialPoints),
		MaxNodes:        sec.Key("max_nodes").MustInt(calc.Limits.MaxNodes),
		MaxTimeSpan:     sec.Key("max_time_span").MustFloat64(calc.Limits.MaxTimeSpan),
		MaxTimeSamples:  sec.Key("max_time_samples").MustInt(calc.Limits.MaxTimeSamples),
		MaxOutputValues: sec.Key("max_output_values").MustInt(calc.Limits.MaxOutputValues),
		MaxBandValues:   sec.Key("max_band_values").MustInt(calc.Limits.MaxBandValues),
	}

	sec = file.Section("grid")
	calc.Grid.RadialPoints = sec.Key("radial_points").MustInt(calc.Grid.RadialPoints)
	calc.Grid.RadialMultiplier = sec.Key("radial_multiplier").MustFloat64(calc.Grid.RadialMultiplier)
	calc.Grid.FineFraction = sec.Key("fine_fraction").MustFloat64(calc.Grid.FineFraction)
	calc.Grid.DefaultLayerPoints = sec.Key("default_points").MustInt(calc.Grid.DefaultLayerPoints)
	calc.ActiveLayer = sec.Key("active_layer").MustString(calc.ActiveLayer)
	calc.CompressFactor = sec.Key("compress_factor").MustFloat64(calc.CompressFactor)

	for _, key := range file.Section("points").Keys() {
		calc.Grid.LayerPoints[key.Name()] = key.MustInt(calc.Grid.DefaultLayerPoints)
	}

	sec = file.Section("solver")
	calc.Solver.RTol = sec.Key("rtol").MustFloat64(calc.Solver.RTol)
	calc.Solver.ATol = sec.Key("atol").MustFloat64(calc.Solver.ATol)
	calc.Solver.MaxStep = sec.Key("max_step").MustFloat64(calc.Solver.MaxStep)
	calc.Solver.MaxSteps = sec.Key("max_steps").MustInt(calc.Solver.MaxSteps)
	calc.TimeSamples = sec.Key("time_samples").MustInt(calc.TimeSamples)

	jobs.Calculator = calc
	cfg.Jobs = jobs
	return cfg
}

// SetupLogging applies the configured level to the standard logrus logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	return nil
}
