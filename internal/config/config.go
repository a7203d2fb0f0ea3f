package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// ThrottleSecret gates the network-throttle diagnostic requests.
	ThrottleSecret string `mapstructure:"throttle_secret"`

	// ConsumerReplicas is the number of extra consumers created per
	// (producer, peer) pair. Used for load testing, normally 0.
	ConsumerReplicas int `mapstructure:"consumer_replicas"`

	WorkerCount        int `mapstructure:"worker_count"`
	MaxIncomingBitrate int `mapstructure:"max_incoming_bitrate"`

	AudioLevelInterval   int `mapstructure:"audio_level_interval"`
	AudioLevelThreshold  int `mapstructure:"audio_level_threshold"`
	AudioLevelMaxEntries int `mapstructure:"audio_level_max_entries"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "dev")
	v.SetDefault("port", 4443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("throttle_secret", "")
	v.SetDefault("consumer_replicas", 0)
	v.SetDefault("worker_count", 4)
	v.SetDefault("max_incoming_bitrate", 1500000)
	v.SetDefault("audio_level_interval", 800)
	v.SetDefault("audio_level_threshold", -80)
	v.SetDefault("audio_level_max_entries", 1)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
