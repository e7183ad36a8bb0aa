package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Mount   MountConfig   `yaml:"mount"`
}

func MustLoad(configPath string) *Config {
	if configPath == "" {
		panic("config path is empty")
	}

	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	expandEnvVars(&cfg)

	return &cfg
}

func expandEnvVars(cfg *Config) {
	cfg.Storage.BackingDir = os.ExpandEnv(cfg.Storage.BackingDir)
	cfg.Mount.Dir = os.ExpandEnv(cfg.Mount.Dir)
}
