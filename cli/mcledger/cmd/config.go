package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/mutualcredit/mcledger/logger"
)

const (
	envPrefix = "MCL"

	defaultHomeDir          = ".mcledger"
	defaultConfigFile       = "config.props"
	defaultLoggerConfigFile = "logger-config.yaml"

	// "home" and "config" are resolved before the rest of the configuration
	// as they tell where to load it from
	keyHome    = "home"
	keyConfig  = "config"
	keyMetrics = "metrics"
	keyTracing = "tracing"

	flagNameLoggerCfgFile = "logger-config"
	flagNameLogOutputFile = "log-file"
	flagNameLogLevel      = "log-level"
	flagNameLogFormat     = "log-format"
)

type (
	LoggerFactory func(cfg *logger.LogConfiguration) (*slog.Logger, error)

	Observability interface {
		Tracer(name string, options ...trace.TracerOption) trace.Tracer
		TracerProvider() trace.TracerProvider
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		PrometheusRegisterer() prometheus.Registerer
		MetricsHandler() http.Handler
		Shutdown() error
		Logger() *slog.Logger
	}

	// rootConfig is the configuration shared by all the subcommands.
	rootConfig struct {
		HomeDir    string
		CfgFile    string // relative path is relative to HomeDir
		LogCfgFile string // relative path is relative to HomeDir

		logF    LoggerFactory
		observe Observability
	}
)

func (r *rootConfig) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&r.HomeDir, keyHome, "", fmt.Sprintf("ledger home directory, $%s (default %s)", envKey(keyHome), defaultHome()))
	f.StringVar(&r.CfgFile, keyConfig, "", fmt.Sprintf("configuration file, $%s (default $%s/%s)", envKey(keyConfig), envKey(keyHome), defaultConfigFile))
	f.String(keyMetrics, "", "metrics exporter, disabled when not set. One of: stdout, prometheus")
	f.String(keyTracing, "", "traces exporter, disabled when not set. One of: stdout, otlptracehttp, zipkin")

	f.StringVar(&r.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger configuration file, relative path is relative to the home directory")
	// no defaults so that it is possible to tell whether the value was set by user
	f.String(flagNameLogOutputFile, "", "log file path or one of the special values: stdout, stderr, discard")
	f.String(flagNameLogLevel, "", "logging level, one of: DEBUG, INFO, WARN, ERROR")
	f.String(flagNameLogFormat, "", "log format, one of: text, json, console, ecs")
}

// resolvePaths assigns home directory and config file from the environment or defaults when not set by flags.
func (r *rootConfig) resolvePaths() {
	r.HomeDir = firstNonEmpty(r.HomeDir, os.Getenv(envKey(keyHome)), defaultHome())
	r.CfgFile = r.pathInHome(firstNonEmpty(r.CfgFile, os.Getenv(envKey(keyConfig))), defaultConfigFile)
}

/*
pathInHome returns "file" when it is absolute path, "file" in the home
directory when it is relative and "defaultName" in the home directory when
"file" is empty.
*/
func (r *rootConfig) pathInHome(file, defaultName string) string {
	switch {
	case file == "":
		return filepath.Join(r.HomeDir, defaultName)
	case filepath.IsAbs(file):
		return file
	default:
		return filepath.Join(r.HomeDir, file)
	}
}

/*
loadConfig assigns the flags of "cmd" which were not set on the command line
from the environment ($MCL_FLAG_NAME) or from the configuration file, in that
order of precedence.
*/
func (r *rootConfig) loadConfig(cmd *cobra.Command) error {
	r.resolvePaths()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if _, err := os.Stat(r.CfgFile); err == nil {
		v.SetConfigFile(r.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", r.CfgFile, err)
		}
	}

	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == keyHome || f.Name == keyConfig || !v.IsSet(f.Name) {
			return
		}
		var err error
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = sv.Replace(v.GetStringSlice(f.Name))
		} else {
			err = cmd.Flags().Set(f.Name, v.GetString(f.Name))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("setting flag %q value: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

/*
newLogger builds the logger from the logger configuration file, the log flags
set on the command line override the values of the file. Missing file is an
error only when it is not the default one.
*/
func (r *rootConfig) newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	file := r.pathInHome(r.LogCfgFile, defaultLoggerConfigFile)
	cfg, err := readLogConfig(file)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || file != filepath.Join(r.HomeDir, defaultLoggerConfigFile) {
			return nil, err
		}
		cfg = &logger.LogConfiguration{}
	}

	for flag, value := range map[string]*string{
		flagNameLogLevel:      &cfg.Level,
		flagNameLogFormat:     &cfg.Format,
		flagNameLogOutputFile: &cfg.OutputPath,
	} {
		if cmd.Flags().Changed(flag) {
			if *value, err = cmd.Flags().GetString(flag); err != nil {
				return nil, fmt.Errorf("reading flag %q: %w", flag, err)
			}
		}
	}

	log, err := r.logF(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

func readLogConfig(file string) (*logger.LogConfiguration, error) {
	f, err := os.Open(filepath.Clean(file))
	if err != nil {
		return nil, fmt.Errorf("opening logger configuration file: %w", err)
	}
	defer f.Close()

	cfg := &logger.LogConfiguration{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding logger configuration %s: %w", file, err)
	}
	return cfg, nil
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic("default user home dir not defined: " + err.Error())
	}
	return filepath.Join(dir, defaultHomeDir)
}
