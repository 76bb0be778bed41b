package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one strategy entry in the YAML configuration.
type Config struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Symbol     string         `yaml:"symbol"`
	Interval   string         `yaml:"interval"`
	Parameters map[string]any `yaml:"parameters"`
	IsActive   bool           `yaml:"is_active"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy definitions from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	return file.Strategies, nil
}

// Build instantiates a strategy from its configuration entry.
func Build(cfg Config) (Strategy, error) {
	switch cfg.Type {
	case "ma_cross":
		fast := intParam(cfg.Parameters, "fast_period", 10)
		slow := intParam(cfg.Parameters, "slow_period", 30)
		if fast <= 0 || slow <= fast {
			return nil, fmt.Errorf("strategy %s: need 0 < fast_period < slow_period, got %d/%d", cfg.ID, fast, slow)
		}
		return NewMACross(cfg.Symbol, fast, slow), nil
	case "rsi":
		period := intParam(cfg.Parameters, "period", 14)
		oversold := floatParam(cfg.Parameters, "oversold", 30)
		overbought := floatParam(cfg.Parameters, "overbought", 70)
		if period <= 0 || oversold >= overbought {
			return nil, fmt.Errorf("strategy %s: invalid RSI parameters", cfg.ID)
		}
		return NewRSIStrategy(cfg.Symbol, period, oversold, overbought), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

// YAML unmarshals numbers as int or float64 depending on the literal, so the
// param helpers accept both.
func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}
