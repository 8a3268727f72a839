package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/api/http"
	"github.com/EternisAI/wg-provisioner/internal/artifact"
	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/notify"
	"github.com/EternisAI/wg-provisioner/internal/registry"
	"github.com/EternisAI/wg-provisioner/internal/wireguard"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig
	Http      http.Config
	Wireguard WireguardConfig
	Artifacts ArtifactsConfig
	Registry  registry.Config
	Sweeper   SweeperConfig
	Notify    NotifyConfig
	Plans     clients.Catalog
}

type WireguardConfig struct {
	wireguard.ToolConfig  `mapstructure:",squash"`
	artifact.ServerParams `mapstructure:",squash"`
	Pool                  string `mapstructure:"pool"`
}

type ArtifactsConfig struct {
	Dir    string `mapstructure:"dir"`
	QRSize int    `mapstructure:"qr_size"`
}

type SweeperConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	WarningHours  []int         `mapstructure:"warning_hours"`
	RetainExpired bool          `mapstructure:"retain_expired"`
}

type NotifyConfig struct {
	QueueSize int                   `mapstructure:"queue_size"`
	Telegram  notify.TelegramConfig `mapstructure:"telegram"`
}

var config Config

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", LOG_FORMAT_TEXT)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.admin_api_key", "")
	viper.SetDefault("http.jwt.secret", "")
	viper.SetDefault("http.jwt.issuer", "wg-provisioner")
	viper.SetDefault("http.jwt.ttl", "24h")

	viper.SetDefault("wireguard.interface", "wg0")
	viper.SetDefault("wireguard.binary", "wg")
	viper.SetDefault("wireguard.native_keys", false)
	viper.SetDefault("wireguard.pool", "10.9.0.0/24")
	viper.SetDefault("wireguard.server_public_key", "")
	viper.SetDefault("wireguard.endpoint_host", "")
	viper.SetDefault("wireguard.endpoint_port", 51820)
	viper.SetDefault("wireguard.dns", []string{"1.1.1.1"})
	viper.SetDefault("wireguard.allowed_ips", []string{"0.0.0.0/0"})
	viper.SetDefault("wireguard.keepalive", 25)

	viper.SetDefault("artifacts.dir", "./configs")
	viper.SetDefault("artifacts.qr_size", artifact.DefaultQRSize)

	viper.SetDefault("registry.driver", registry.DriverFile)
	viper.SetDefault("registry.path", "./data/clients.json")
	viper.SetDefault("registry.db.url", "")
	viper.SetDefault("registry.db.schema", "public")

	viper.SetDefault("sweeper.interval", "1h")
	viper.SetDefault("sweeper.warning_hours", []int{72, 24, 0})
	viper.SetDefault("sweeper.retain_expired", true)

	viper.SetDefault("notify.queue_size", 256)
	viper.SetDefault("notify.telegram.token", "")
	viper.SetDefault("notify.telegram.chat_ids", []int64{})
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/wg-provisioner-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.BindEnv("notify.telegram.token", "TELEGRAM_TOKEN")
	_ = viper.BindEnv("http.admin_api_key", "WGP_ADMIN_API_KEY")
	_ = viper.BindEnv("http.jwt.secret", "WGP_JWT_SECRET")
	_ = viper.BindEnv("registry.db.url", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}
	if len(config.Plans) == 0 {
		config.Plans = clients.DefaultCatalog()
	}

	// Initialize logger with configured log level
	initLogger(config.Log)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func redacted(c Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "<redacted>"
	}
	c.Http.AdminAPIKey = mask(c.Http.AdminAPIKey)
	c.Http.JWT.Secret = mask(c.Http.JWT.Secret)
	c.Notify.Telegram.Token = mask(c.Notify.Telegram.Token)
	c.Registry.DB.Url = mask(c.Registry.DB.Url)
	return c
}

// validate rejects configurations the service cannot run with.
func (c Config) validate() error {
	if err := clients.ValidateKey(c.Wireguard.PublicKey); err != nil {
		return fmt.Errorf("wireguard.server_public_key: %w", err)
	}
	if c.Wireguard.EndpointHost == "" {
		return fmt.Errorf("wireguard.endpoint_host is required")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive")
	}
	for _, h := range c.Sweeper.WarningHours {
		if h < 0 {
			return fmt.Errorf("sweeper.warning_hours must not be negative, got %d", h)
		}
	}
	if err := c.Plans.Validate(); err != nil {
		return fmt.Errorf("plans: %w", err)
	}
	return nil
}
