package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LOBBY"

// Config is the directory server configuration.
type Config struct {
	Mode             string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port             int           `mapstructure:"port" validate:"min=1,max=65535"`
	Secret           string        `mapstructure:"secret" validate:"required"`
	ReadLimit        int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod       time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	SendBuffer       int           `mapstructure:"send_buffer" validate:"gt=0"`
	RegisterLimit    int           `mapstructure:"register_limit" validate:"gte=0"`
	RegisterInterval time.Duration `mapstructure:"register_interval" validate:"gt=0"`
}

// PeerConfig is the peer CLI configuration.
type PeerConfig struct {
	DirectoryURL string        `mapstructure:"directory_url" validate:"required,url"`
	GracePeriod  time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	LogLevel     string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Name         string        `mapstructure:"name"`
	ID           string        `mapstructure:"id"`
	Host         string        `mapstructure:"host"`
}

var validate = validator.New()

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults, then LOBBY_* environment variables.
func Load() (*Config, error) {
	v := newViper()
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "lobby-dev-secret")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("register_limit", 10)
	v.SetDefault("register_interval", "1m")

	readFile(v, fileName("config"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config loaded")
	return &cfg, nil
}

// PeerFlags registers the peer CLI flags on fs.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/peer.<CONFIG_ENV>.yaml)")
	fs.String("directory", "", "directory websocket url")
	fs.String("id", "", "identifier to register instead of a generated one")
	fs.String("host", "", "host identifier to join")
	fs.String("name", "", "display name sent when leaving")
	fs.String("log-level", "", "log level")
}

// LoadPeer reads the peer file, then LOBBY_* variables, then the flags in fs
// that were set explicitly.
func LoadPeer(fs *pflag.FlagSet) (*PeerConfig, error) {
	v := newViper()
	v.SetDefault("directory_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("grace_period", "500ms")
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("log_level", "info")
	v.SetDefault("name", "")
	v.SetDefault("id", "")
	v.SetDefault("host", "")

	for key, flag := range map[string]string{
		"directory_url": "directory",
		"id":            "id",
		"host":          "host",
		"name":          "name",
		"log_level":     "log-level",
	} {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	file := fileName("peer")
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		file = f.Value.String()
	}
	readFile(v, file)

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func fileName(base string) string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/%s.%s.yaml", base, env)
}

// readFile loads file if it exists; a missing file leaves the defaults.
func readFile(v *viper.Viper, file string) {
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", file).Msg("loaded config file")
}
