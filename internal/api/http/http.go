package http

import "github.com/EternisAI/wg-provisioner/internal/auth"

type Config struct {
	Port        uint        `mapstructure:"port"`
	AdminAPIKey string      `mapstructure:"admin_api_key"`
	JWT         auth.Config `mapstructure:"jwt"`
}
