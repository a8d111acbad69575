package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deepampatel/foreman/internal/money"
	"github.com/deepampatel/foreman/pkg/models"
)

// Settings is the passive, non-context configuration every daemon-side
// package reads at startup: dispatcher tuning, human-loop poll interval,
// merge job timeout, and the price schedule used to cost sessions (spec §6).
// Unlike Home, Settings is loaded once and passed explicitly, not carried
// on the context — the teacher's daemon.StartOptions plays the same role.
type Settings struct {
	DispatcherMaxConcurrentTurns  int
	DispatcherFallbackPollSeconds int
	DispatcherTurnTimeout         time.Duration
	StuckAgentTimeout             time.Duration
	HumanLoopExpiryPollSeconds    int
	MergeJobTimeout               time.Duration
	BranchPrefix                  string
	SlugMaxLength                 int

	Prices map[string]models.PriceRates
}

// Default returns the settings implied by the numeric defaults of spec §6.
func Default() Settings {
	return Settings{
		DispatcherMaxConcurrentTurns:  models.DefaultDispatcherMaxConcurrentTurns,
		DispatcherFallbackPollSeconds: models.DefaultDispatcherFallbackPollSeconds,
		DispatcherTurnTimeout:         time.Duration(models.DefaultDispatcherTurnTimeoutSeconds) * time.Second,
		StuckAgentTimeout:             time.Duration(models.DefaultStuckAgentTimeoutSeconds) * time.Second,
		HumanLoopExpiryPollSeconds:    models.DefaultHumanLoopExpiryPollSeconds,
		MergeJobTimeout:               time.Duration(models.DefaultMergeJobTimeoutSeconds) * time.Second,
		BranchPrefix:                  "foreman/",
		SlugMaxLength:                 models.DefaultSlugMaxLength,
		Prices:                        map[string]models.PriceRates{},
	}
}

// priceFile is the on-disk YAML shape for a price schedule: currency units
// (not micros) per million tokens, per model, per usage category.
type priceFile struct {
	Prices map[string]struct {
		Input      float64 `yaml:"input"`
		Output     float64 `yaml:"output"`
		CacheRead  float64 `yaml:"cache_read"`
		CacheWrite float64 `yaml:"cache_write"`
	} `yaml:"prices"`
}

// LoadPrices reads a YAML price schedule from <home>/prices.yaml, if present.
// Absence of the file is not an error: Prices stays empty and every model
// looked up against it is "unknown" (spec §4.7 cost.unknown_model).
func LoadPrices(home string) (map[string]models.PriceRates, error) {
	path := filepath.Join(home, "prices.yaml")
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]models.PriceRates{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading price schedule: %w", err)
	}
	var pf priceFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("config: parsing price schedule %s: %w", path, err)
	}
	out := make(map[string]models.PriceRates, len(pf.Prices))
	for model, rates := range pf.Prices {
		out[model] = models.PriceRates{
			InputPerMillion:      money.FromFloat(rates.Input),
			OutputPerMillion:     money.FromFloat(rates.Output),
			CacheReadPerMillion:  money.FromFloat(rates.CacheRead),
			CacheWritePerMillion: money.FromFloat(rates.CacheWrite),
		}
	}
	return out, nil
}
