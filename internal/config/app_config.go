package config

import (
	"time"
)

type AppConfig struct {
	Port           int           `yaml:"port"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type StorageConfig struct {
	// BackingDir is where per-inode content files live. Only content is
	// persisted there; the inode table is rebuilt from scratch on every
	// start.
	BackingDir  string `yaml:"backing_dir"`
	MaxInodes   int    `yaml:"max_inodes"`
	MaxChildren int    `yaml:"max_children"`
}

type MountConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}
