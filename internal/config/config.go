package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "JGET"

// Config holds application level configuration aggregated from flags, env
// and config files.
type Config struct {
	Download struct {
		Dir          string        `mapstructure:"dir"`
		Connections  int           `mapstructure:"connections"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
		MaxFailures  int           `mapstructure:"max_failures"`
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
		MaxRedirects int           `mapstructure:"max_redirects"`
		ProbeMethod  string        `mapstructure:"probe_method"`
		UserAgent    string        `mapstructure:"user_agent"`
		BufferSize   int           `mapstructure:"buffer_size"`
	} `mapstructure:"download"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Snapshot struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"snapshot"`
	Progress struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"progress"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Auth struct {
		JWTSecret    string        `mapstructure:"jwt_secret"`
		PasswordHash string        `mapstructure:"password_hash"`
		TokenTTL     time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"auth"`
	Storage struct {
		Bucket    string `mapstructure:"bucket"`
		KeyPrefix string `mapstructure:"key_prefix"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
	} `mapstructure:"storage"`
	AWS struct {
		Profile string `mapstructure:"profile"`
	} `mapstructure:"aws"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// New returns a viper instance with defaults and JGET_* environment
// overrides in place. Callers may bind flags to it before Load.
func New() *viper.Viper {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("download.dir", ".")
	v.SetDefault("download.connections", runtime.NumCPU())
	v.SetDefault("download.idle_timeout", 2*time.Minute)
	v.SetDefault("download.max_failures", 3)
	v.SetDefault("download.retry_backoff", 500*time.Millisecond)
	v.SetDefault("download.max_redirects", 10)
	v.SetDefault("download.probe_method", "HEAD")
	v.SetDefault("download.user_agent", "jget")
	v.SetDefault("download.buffer_size", 32*1024)
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("snapshot.interval", 2*time.Second)
	v.SetDefault("progress.interval", time.Second)
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "jget")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	return v
}

// Load reads the config file at path, or an optional jget.yaml from the
// working directory, and decodes everything into a Config.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("jget")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Download.Connections < 1 {
		errs = append(errs, fmt.Errorf("download.connections must be positive, got %d", c.Download.Connections))
	}
	if c.Download.IdleTimeout <= 0 {
		errs = append(errs, errors.New("download.idle_timeout must be positive"))
	}
	if c.Download.MaxFailures < 1 {
		errs = append(errs, errors.New("download.max_failures must be at least 1"))
	}
	switch strings.ToUpper(c.Download.ProbeMethod) {
	case "HEAD", "GET":
	default:
		errs = append(errs, fmt.Errorf("download.probe_method must be HEAD or GET, got %q", c.Download.ProbeMethod))
	}
	if c.Snapshot.Interval <= 0 || c.Progress.Interval <= 0 {
		errs = append(errs, errors.New("snapshot and progress intervals must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	return errors.Join(errs...)
}

func defaultDatabasePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "jget", "jget.db")
	}
	return filepath.Join("data", "jget.db")
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
