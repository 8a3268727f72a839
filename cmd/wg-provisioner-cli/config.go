package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Output OutputConfig `mapstructure:"output"`
}

type ServerConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Token  string `mapstructure:"token"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

var config Config

func InitConfig() error {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("wgctl")
	v.AddConfigPath(".")
	v.AddConfigPath("./cmd/wg-provisioner-cli")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.token", "")
	v.SetDefault("output.dir", ".")

	_ = v.BindEnv("server.url", "WGP_SERVER_URL")
	_ = v.BindEnv("server.api_key", "WGP_ADMIN_API_KEY")
	_ = v.BindEnv("server.token", "WGP_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return v.Unmarshal(&config)
}
