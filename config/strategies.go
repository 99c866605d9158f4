package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/strategy"
)

// StrategyFile is the YAML layout of a strategy seed file:
//
//	strategies:
//	  - name: nifty rsi dip
//	    instrument: NIFTY
//	    side: BUY
//	    quantity: 50
//	    entry_conditions:
//	      - {indicator: RSI, operator: "<", threshold: 30, period: 14}
//	    exit_conditions:
//	      - {indicator: RSI, operator: ">", threshold: 60, period: 14}
type StrategyFile struct {
	Strategies []model.Strategy `yaml:"strategies"`
}

// LoadStrategies parses a strategy seed file. Each entry is validated the
// way the registry validates it, after applying the registry's defaults.
func LoadStrategies(path string) ([]model.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	var f StrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategies file: %w", err)
	}
	for i, s := range f.Strategies {
		if s.Status == "" {
			s.Status = model.StrategyCreated
		}
		if s.OrderType == "" {
			s.OrderType = model.OrderMarket
		}
		if err := strategy.Validate(s); err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, s.Name, err)
		}
		f.Strategies[i] = s
	}
	return f.Strategies, nil
}

// SeedRegistry adds every strategy in path to reg.
func SeedRegistry(reg *strategy.Registry, path string) (int, error) {
	list, err := LoadStrategies(path)
	if err != nil {
		return 0, err
	}
	for _, s := range list {
		if _, err := reg.Add(s); err != nil {
			return 0, fmt.Errorf("seed %s: %w", s.Name, err)
		}
	}
	return len(list), nil
}

// SaveStrategies writes strategies to path as YAML.
func SaveStrategies(path string, list []model.Strategy) error {
	data, err := yaml.Marshal(StrategyFile{Strategies: list})
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write strategies file: %w", err)
	}
	return nil
}
