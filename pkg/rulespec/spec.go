package rulespec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec 规则的声明式配置形式
type Spec struct {
	Name        string     `yaml:"name" json:"name"`
	Domain      string     `yaml:"domain" json:"domain"`
	Path        string     `yaml:"path" json:"path"`
	Status      int        `yaml:"status" json:"status"`
	ContentType string     `yaml:"contentType" json:"contentType"`
	Decode      DecodeMode `yaml:"decode" json:"decode"`
}

// Config 规则文件
type Config struct {
	Version string `yaml:"version" json:"version"`
	Rules   []Spec `yaml:"rules" json:"rules"`
}

// Compile 将配置编译为不可变规则
func (s Spec) Compile() (MatchRule, error) {
	switch s.Decode {
	case DecodeNone, DecodeGrpcWeb:
	default:
		return MatchRule{}, fmt.Errorf("unknown decode mode %q", s.Decode)
	}
	r, err := New(s.Domain, s.Path, s.Status, s.ContentType)
	if err != nil {
		return MatchRule{}, err
	}
	if s.Name != "" {
		r = r.WithName(s.Name)
	}
	return r.WithDecode(s.Decode), nil
}

// CompileAll 编译全部规则，任一失败即返回错误
func (c *Config) CompileAll() ([]MatchRule, error) {
	out := make([]MatchRule, 0, len(c.Rules))
	for i, s := range c.Rules {
		r, err := s.Compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, s.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadFile 从 YAML 文件读取规则
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	return &c, nil
}
