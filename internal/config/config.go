package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Audio    AudioConfig   `mapstructure:"audio"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelPath string `mapstructure:"model_path"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	Delegate       string `mapstructure:"delegate"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Hop        int `mapstructure:"hop"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxSamples      int    `mapstructure:"max_samples"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelPath: "models/classifier.onnx",
		},
		Runtime: RuntimeConfig{
			Threads:        2,
			InterOpThreads: 1,
			Delegate:       DelegateORT,
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Hop:        512,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			RequestTimeout:  30,
			ShutdownTimeout: 30,
			MaxSamples:      1 << 20,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each CLI flag to its nested configuration key.
var flagKeys = map[string]string{
	"paths-model-path":         "paths.model_path",
	"model":                    "paths.model_path",
	"runtime-threads":          "runtime.threads",
	"threads":                  "runtime.threads",
	"runtime-inter-op-threads": "runtime.inter_op_threads",
	"runtime-delegate":         "runtime.delegate",
	"delegate":                 "runtime.delegate",
	"runtime-ort-library-path": "runtime.ort_library_path",
	"ort-lib":                  "runtime.ort_library_path",
	"runtime-ort-version":      "runtime.ort_version",
	"runtime-ort-api-version":  "runtime.ort_api_version",
	"audio-sample-rate":        "audio.sample_rate",
	"audio-hop":                "audio.hop",
	"server-listen-addr":       "server.listen_addr",
	"server-workers":           "server.workers",
	"workers":                  "server.workers",
	"server-request-timeout":   "server.request_timeout",
	"server-shutdown-timeout":  "server.shutdown_timeout",
	"server-max-samples":       "server.max_samples",
	"log-level":                "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Path to ONNX classifier model")
	fs.String("model", defaults.Paths.ModelPath, "Path to ONNX classifier model (alias for --paths-model-path)")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Inference engine intra-op thread count")
	fs.Int("threads", defaults.Runtime.Threads, "Inference engine intra-op thread count (alias for --runtime-threads)")
	fs.Int("runtime-inter-op-threads", defaults.Runtime.InterOpThreads, "Inference engine inter-op thread count")
	fs.String("runtime-delegate", defaults.Runtime.Delegate, "Inference engine delegate (ort|ort-cgo)")
	fs.String("delegate", defaults.Runtime.Delegate, "Inference engine delegate (alias for --runtime-delegate)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version expected by the purego binding")
	fs.Int("audio-sample-rate", defaults.Audio.SampleRate, "Expected input sample rate in Hz")
	fs.Int("audio-hop", defaults.Audio.Hop, "Samples between consecutive classification windows")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Number of independent classifier instances serving requests")
	fs.Int("workers", defaults.Server.Workers, "Number of classifier instances (alias for --server-workers)")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request deadline in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("server-max-samples", defaults.Server.MaxSamples, "Maximum samples accepted by POST /classify")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("AUDIOML")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "AUDIOML_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("audioml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	delegate, err := NormalizeDelegate(cfg.Runtime.Delegate)
	if err != nil {
		return Config{}, err
	}
	cfg.Runtime.Delegate = delegate

	return cfg, nil
}

// Validate reports settings that can never produce a working classifier.
func (c Config) Validate() error {
	if c.Runtime.Threads < 1 {
		return fmt.Errorf("runtime.threads must be >= 1, got %d", c.Runtime.Threads)
	}
	if c.Runtime.InterOpThreads < 1 {
		return fmt.Errorf("runtime.inter_op_threads must be >= 1, got %d", c.Runtime.InterOpThreads)
	}
	if c.Audio.Hop < 1 {
		return fmt.Errorf("audio.hop must be >= 1, got %d", c.Audio.Hop)
	}
	if c.Audio.SampleRate < 1 {
		return fmt.Errorf("audio.sample_rate must be >= 1, got %d", c.Audio.SampleRate)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be >= 1, got %d", c.Server.Workers)
	}
	return nil
}

// bindFlags binds only flags the user changed, so an unchanged alias flag
// never shadows the canonical flag, the environment, or the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.inter_op_threads", c.Runtime.InterOpThreads)
	v.SetDefault("runtime.delegate", c.Runtime.Delegate)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("audio.sample_rate", c.Audio.SampleRate)
	v.SetDefault("audio.hop", c.Audio.Hop)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_samples", c.Server.MaxSamples)
	v.SetDefault("log_level", c.LogLevel)
}
