package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/rulespec"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	// Sqlite.Dsn 为空时不保存捕获记录
	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Browser browser.LaunchOptions `yaml:"browser"`

	Retry struct {
		MaxAttempts int `yaml:"maxAttempts"`
		IntervalMS  int `yaml:"intervalMS"`
	} `yaml:"retry"`

	Watch struct {
		Rules []rulespec.Spec `yaml:"rules"`
	} `yaml:"watch"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Prefix = "cdpwatch_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/cdpwatch.log"
	c.Browser.Headless = true
	c.Browser.StartTimeoutMS = 15000
	c.Retry.MaxAttempts = 5
	c.Retry.IntervalMS = 3000
	return c
}

// Load 在默认配置上叠加 YAML 文件，path 为空时只返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验规则可编译、重试参数非负
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.maxAttempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.IntervalMS < 0 {
		return fmt.Errorf("retry.intervalMS must be >= 0, got %d", c.Retry.IntervalMS)
	}
	rc := rulespec.Config{Rules: c.Watch.Rules}
	if _, err := rc.CompileAll(); err != nil {
		return fmt.Errorf("watch.rules: %w", err)
	}
	return nil
}
