package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL              string `yaml:"url"`
		Target           string `yaml:"target"`
		ProcessTimeoutMS int    `yaml:"processTimeoutMS"`
		InterceptMode    string `yaml:"interceptMode"`
	} `yaml:"devtools"`

	Idle struct {
		GlobalWaitMS   int `yaml:"globalWaitMS"`
		InflightIdleMS int `yaml:"inflightIdleMS"`
		NumInflight    int `yaml:"numInflight"`
	} `yaml:"idle"`

	Sqlite struct {
		Dsn string `yaml:"dsn"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.DevTools.URL = "http://127.0.0.1:9222"
	cfg.DevTools.ProcessTimeoutMS = 3000
	cfg.DevTools.InterceptMode = "modern"
	cfg.Idle.GlobalWaitMS = 40000
	cfg.Idle.InflightIdleMS = 1500
	cfg.Idle.NumInflight = 2
	cfg.Sqlite.Dsn = "traffic.sqlite3"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File = "cdpdrive.log"
	return cfg
}

// Load 读取并解析配置文件，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
