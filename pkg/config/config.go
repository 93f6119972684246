package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultProcfsPath     = "/proc"
	DefaultArgsBufferSize = 4096
	DefaultScratchSize    = 4096
	DefaultMetricsPort    = 8080
	DefaultHealthPort     = 7888
)

type Config struct {
	ProcfsPath               string        `mapstructure:"procfsPath"`
	Threads                  int           `mapstructure:"threads"`
	ArgsBufferSize           int           `mapstructure:"argsBufferSize"`
	ScratchSize              int           `mapstructure:"scratchSize"`
	PayloadPath              string        `mapstructure:"payloadPath"`
	PayloadEntry             uint64        `mapstructure:"payloadEntry"`
	EnablePieLog             bool          `mapstructure:"pieLogEnabled"`
	PieLogPrefix             string        `mapstructure:"pieLogPrefix"`
	LogLevel                 string        `mapstructure:"logLevel"`
	WorkerPoolSize           int           `mapstructure:"workerPoolSize"`
	PrepareRetries           int           `mapstructure:"prepareRetries"`
	PrepareRetryInterval     time.Duration `mapstructure:"prepareRetryInterval"`
	EnablePrometheusExporter bool          `mapstructure:"prometheusExporterEnabled"`
	MetricsPort              int           `mapstructure:"metricsPort"`
	HealthPort               int           `mapstructure:"healthPort"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("procfsPath", DefaultProcfsPath)
	v.SetDefault("threads", 1)
	v.SetDefault("argsBufferSize", DefaultArgsBufferSize)
	v.SetDefault("scratchSize", DefaultScratchSize)
	v.SetDefault("pieLogEnabled", true)
	v.SetDefault("pieLogPrefix", "pie: ")
	v.SetDefault("logLevel", "info")
	v.SetDefault("workerPoolSize", 4)
	v.SetDefault("prepareRetries", 3)
	v.SetDefault("prepareRetryInterval", 100*time.Millisecond)
	v.SetDefault("metricsPort", DefaultMetricsPort)
	v.SetDefault("healthPort", DefaultHealthPort)

	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		return Config{}, err
	}

	var config Config
	err = v.Unmarshal(&config)
	return config, err
}

func (c *Config) Validate() error {
	var errs []error
	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be positive, got %d", c.Threads))
	}
	if c.ArgsBufferSize < 1 {
		errs = append(errs, fmt.Errorf("argsBufferSize must be positive, got %d", c.ArgsBufferSize))
	}
	if c.ScratchSize < 1 {
		errs = append(errs, fmt.Errorf("scratchSize must be positive, got %d", c.ScratchSize))
	}
	if c.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("workerPoolSize must be positive, got %d", c.WorkerPoolSize))
	}
	if c.PrepareRetries < 0 {
		errs = append(errs, fmt.Errorf("prepareRetries must not be negative, got %d", c.PrepareRetries))
	}
	return errors.Join(errs...)
}
