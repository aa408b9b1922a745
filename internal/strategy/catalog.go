package strategy

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Definition is one leverage-loop strategy a user can select. Ratios are
// expressed as fractions (0.65 means 65% LTV).
type Definition struct {
	ID                 string         `yaml:"id" json:"id"`
	Name               string         `yaml:"name" json:"name"`
	Description        string         `yaml:"description" json:"description"`
	Protocol           string         `yaml:"protocol" json:"protocol"`
	CollateralToken    string         `yaml:"collateral_token" json:"collateral_token"`
	DebtToken          string         `yaml:"debt_token" json:"debt_token"`
	MarketSymbol       string         `yaml:"market_symbol" json:"market_symbol"`
	TargetLTV          float64        `yaml:"target_ltv" json:"target_ltv"`
	MaxLTV             float64        `yaml:"max_ltv" json:"max_ltv"`
	RebalanceThreshold float64        `yaml:"rebalance_threshold" json:"rebalance_threshold"`
	LoopInterval       Duration       `yaml:"loop_interval" json:"loop_interval"`
	RiskLevel          string         `yaml:"risk_level" json:"risk_level"`
	MinDeposit         float64        `yaml:"min_deposit" json:"min_deposit"`
	Parameters         map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	IsActive           bool           `yaml:"is_active" json:"is_active"`
}

type catalogFile struct {
	Strategies []Definition `yaml:"strategies"`
}

// Catalog is the read-only set of strategies loaded at startup. A strategy id
// referenced by a vault must resolve here for the vault's agent to run.
type Catalog struct {
	byID map[string]Definition
}

// Load reads and validates the strategy catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(file.Strategies)
}

// New builds a catalog from definitions, rejecting duplicates and invalid
// risk geometry.
func New(defs []Definition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate strategy id %q", d.ID)
		}
		c.byID[d.ID] = d
	}
	return c, nil
}

func validate(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("strategy %q: id is required", d.Name)
	}
	if d.TargetLTV <= 0 || d.TargetLTV >= 1 {
		return fmt.Errorf("strategy %s: target_ltv %v out of (0,1)", d.ID, d.TargetLTV)
	}
	if d.MaxLTV <= d.TargetLTV || d.MaxLTV >= 1 {
		return fmt.Errorf("strategy %s: max_ltv %v must be above target_ltv and below 1", d.ID, d.MaxLTV)
	}
	if d.RebalanceThreshold <= 0 {
		return fmt.Errorf("strategy %s: rebalance_threshold must be positive", d.ID)
	}
	if d.CollateralToken == "" || d.DebtToken == "" {
		return fmt.Errorf("strategy %s: collateral_token and debt_token are required", d.ID)
	}
	if d.MinDeposit < 0 {
		return fmt.Errorf("strategy %s: min_deposit must not be negative", d.ID)
	}
	return nil
}

// Get returns the definition for id; ok is false for unknown ids.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// List returns active strategies sorted by id.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.byID))
	for _, d := range c.byID {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
