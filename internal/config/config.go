package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Subscribe SubscribeConfig `yaml:"subscribe"`
}

type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type SubscribeConfig struct {
	TargetType    string        `yaml:"target_type"`
	TargetID      string        `yaml:"target_id"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Subscribe: SubscribeConfig{
			TargetType:    "post",
			PollInterval:  10 * time.Second,
			RetryBase:     time.Second,
			RetryMax:      30 * time.Second,
			ProbeInterval: 5 * time.Second,
		},
	}
}

// Load reads a yaml config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
