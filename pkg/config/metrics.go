package config

// MetricsConfig configures the Prometheus exposition.
type MetricsConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	Subsystem string `yaml:"subsystem" mapstructure:"subsystem"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
}
