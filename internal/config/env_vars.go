package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	Port     string `env:"PORT" envDefault:"8080"`
	AppName  string `env:"APP_NAME" envDefault:"Social Connect"`
	Env      string `env:"ENV" envDefault:"DEV"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	if e.Port == "" {
		return ":8080"
	}
	if !strings.HasPrefix(e.Port, ":") {
		return fmt.Sprintf(":%s", e.Port)
	}
	return e.Port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}
