// Package config provides configuration structures and defaults for mlatd,
// loaded the way argus-collector loads its own YAML config: viper binds
// flags over a YAML file, then unmarshals into these structs.
package config

import "time"

// Config is the complete mlatd configuration.
type Config struct {
	Receivers   []ReceiverConfig `yaml:"receivers"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Solver      SolverConfig     `yaml:"solver"`
	Output      OutputConfig     `yaml:"output"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Snapshot    SnapshotConfig   `yaml:"snapshot"`
}

// ReceiverConfig is a statically configured (as opposed to dynamically
// connecting) receiver's surveyed position and hardware parameters.
type ReceiverConfig struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Altitude  float64 `yaml:"altitude"` // metres above WGS-84 ellipsoid
	Frequency float64 `yaml:"frequency"`
	WrapBits  uint    `yaml:"wrap_bits"` // hardware tick-counter wrap width
	UDPPort   int     `yaml:"udp_port"`
}

// CorrelationConfig holds correlator windowing settings. The engine does not
// read it; the correlator uses its package constants Window, CloseDelay and
// MinReceivers.
type CorrelationConfig struct {
	Window       time.Duration `yaml:"window"`
	CloseDelay   time.Duration `yaml:"close_delay"`
	MinReceivers int           `yaml:"min_receivers"`
}

// SolverConfig holds the LM solver's acceptance gates. The engine does not
// read it; the solver uses its package constants ChiSquarePerDOF and
// MaxConditionRatio.
type SolverConfig struct {
	ChiSquarePerDOF   float64 `yaml:"chi_square_per_dof"`
	MaxConditionRatio float64 `yaml:"max_condition_ratio"`
}

// OutputConfig selects which output sinks are active.
type OutputConfig struct {
	StatusAddr string `yaml:"status_addr"` // e.g. ":8080"
	RefDBPath  string `yaml:"refdb_path"`  // sqlite reference-position database
}

// LoggingConfig controls the log directory. Debug is not read.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SnapshotConfig controls warm-start persistence to memcache.
type SnapshotConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers"`
}

// DefaultConfig returns a configuration with sensible defaults, overridden
// by whatever YAML file and flags the caller layers on top via viper.
func DefaultConfig() *Config {
	return &Config{
		Correlation: CorrelationConfig{
			Window:       2 * time.Millisecond,
			CloseDelay:   500 * time.Millisecond,
			MinReceivers: 3,
		},
		Solver: SolverConfig{
			ChiSquarePerDOF:   25.0,
			MaxConditionRatio: 1e4,
		},
		Output: OutputConfig{
			StatusAddr: ":8080",
			RefDBPath:  "./mlatd_refdb.sqlite",
		},
		Logging: LoggingConfig{
			Dir:   "./logs",
			Debug: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9977",
		},
		Snapshot: SnapshotConfig{
			Enabled: false,
			Servers: []string{"127.0.0.1:11211"},
		},
	}
}
