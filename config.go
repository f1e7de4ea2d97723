package acms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/Saket-Kr/acms/acmserr"
)

// MarkerWeights maps a marker (a MarkerType value or a "custom:" marker)
// to its recall-scoring boost weight.
type MarkerWeights map[string]float64

// DefaultMarkerWeights returns the built-in recall boost weights.
func DefaultMarkerWeights() MarkerWeights {
	return MarkerWeights{
		string(MarkerConstraint): 0.4,
		string(MarkerDecision):   0.3,
		string(MarkerGoal):       0.3,
		string(MarkerFailure):    0.2,
	}
}

// DefaultCustomMarkerWeight is the boost applied to any marker not present
// in MarkerWeights, including all custom:* markers.
const DefaultCustomMarkerWeight = 0.2

// EpisodeBoundaryConfig configures the episode manager's boundary rules,
// evaluated in the order the fields are listed.
type EpisodeBoundaryConfig struct {
	MaxTurns          int      `json:"max_turns" yaml:"max_turns"`
	MaxTimeGapSeconds int      `json:"max_time_gap_seconds" yaml:"max_time_gap_seconds"`
	CloseOnToolResult bool     `json:"close_on_tool_result" yaml:"close_on_tool_result"`
	ClosePatterns     []string `json:"close_on_patterns,omitempty" yaml:"close_on_patterns,omitempty"`
}

// RecallConfig configures the recall pipeline.
type RecallConfig struct {
	DefaultTokenBudget      int     `json:"default_token_budget" yaml:"default_token_budget"`
	CurrentEpisodeBudgetPct float64 `json:"current_episode_budget_pct" yaml:"current_episode_budget_pct"`
	MaxVectorResults        int     `json:"max_vector_results" yaml:"max_vector_results"`
	MinRelevanceThreshold   float64 `json:"min_relevance_threshold" yaml:"min_relevance_threshold"`
}

// ReflectionConfig configures the reflection runner.
type ReflectionConfig struct {
	Enabled                          bool    `json:"enabled" yaml:"enabled"`
	MinEpisodeTurns                  int     `json:"min_episode_turns" yaml:"min_episode_turns"`
	MaxFactsPerEpisode               int     `json:"max_facts_per_episode" yaml:"max_facts_per_episode"`
	MinConfidence                    float64 `json:"min_confidence" yaml:"min_confidence"`
	ConsolidationSimilarityThreshold float64 `json:"consolidation_similarity_threshold" yaml:"consolidation_similarity_threshold"`
	DedupSimilarityThreshold         float64 `json:"dedup_similarity_threshold" yaml:"dedup_similarity_threshold"`
}

// Config is the single configuration object consumed by the session
// facade and its pipelines.
type Config struct {
	AutoDetectMarkers bool                  `json:"auto_detect_markers" yaml:"auto_detect_markers"`
	MarkerWeights     MarkerWeights         `json:"marker_weights,omitempty" yaml:"marker_weights,omitempty"`
	EpisodeBoundary   EpisodeBoundaryConfig `json:"episode_boundary" yaml:"episode_boundary"`
	Recall            RecallConfig          `json:"recall" yaml:"recall"`
	Reflection        ReflectionConfig      `json:"reflection" yaml:"reflection"`
	MaxContentLength  int                   `json:"max_content_length" yaml:"max_content_length"`
}

// DefaultConfig returns a Config populated with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoDetectMarkers: true,
		MarkerWeights:     DefaultMarkerWeights(),
		EpisodeBoundary: EpisodeBoundaryConfig{
			MaxTurns:          6,
			MaxTimeGapSeconds: 1800,
			CloseOnToolResult: false,
		},
		Recall: RecallConfig{
			DefaultTokenBudget:      4000,
			CurrentEpisodeBudgetPct: 0.4,
			MaxVectorResults:        50,
			MinRelevanceThreshold:   0.0,
		},
		Reflection: ReflectionConfig{
			Enabled:                          true,
			MinEpisodeTurns:                  2,
			MaxFactsPerEpisode:               5,
			MinConfidence:                    0.7,
			ConsolidationSimilarityThreshold: 0.75,
			DedupSimilarityThreshold:         0.92,
		},
		MaxContentLength: 100_000,
	}
}

// Validate checks every field, returning the first violation found as an
// *acmserr.ConfigurationError.
func (c *Config) Validate() error {
	if c.MaxContentLength <= 0 {
		return acmserr.NewConfigurationError("max_content_length", "must be greater than zero")
	}
	for marker, weight := range c.MarkerWeights {
		if weight < 0 {
			return acmserr.NewConfigurationError("marker_weights["+marker+"]", "must be non-negative")
		}
	}
	if c.EpisodeBoundary.MaxTurns <= 0 {
		return acmserr.NewConfigurationError("episode_boundary.max_turns", "must be greater than zero")
	}
	if c.EpisodeBoundary.MaxTimeGapSeconds <= 0 {
		return acmserr.NewConfigurationError("episode_boundary.max_time_gap_seconds", "must be greater than zero")
	}
	for _, pattern := range c.EpisodeBoundary.ClosePatterns {
		if strings.TrimSpace(pattern) == "" {
			return acmserr.NewConfigurationError("episode_boundary.close_on_patterns", "must not contain empty patterns")
		}
	}
	if c.Recall.DefaultTokenBudget <= 0 {
		return acmserr.NewConfigurationError("recall.default_token_budget", "must be greater than zero")
	}
	if c.Recall.CurrentEpisodeBudgetPct < 0 || c.Recall.CurrentEpisodeBudgetPct > 1 {
		return acmserr.NewConfigurationError("recall.current_episode_budget_pct", "must be within [0,1]")
	}
	if c.Recall.MaxVectorResults <= 0 {
		return acmserr.NewConfigurationError("recall.max_vector_results", "must be greater than zero")
	}
	if c.Recall.MinRelevanceThreshold < 0 || c.Recall.MinRelevanceThreshold > 1 {
		return acmserr.NewConfigurationError("recall.min_relevance_threshold", "must be within [0,1]")
	}
	if c.Reflection.MinEpisodeTurns <= 0 {
		return acmserr.NewConfigurationError("reflection.min_episode_turns", "must be greater than zero")
	}
	if c.Reflection.MaxFactsPerEpisode <= 0 {
		return acmserr.NewConfigurationError("reflection.max_facts_per_episode", "must be greater than zero")
	}
	if c.Reflection.MinConfidence < 0 || c.Reflection.MinConfidence > 1 {
		return acmserr.NewConfigurationError("reflection.min_confidence", "must be within [0,1]")
	}
	if c.Reflection.ConsolidationSimilarityThreshold < 0 || c.Reflection.ConsolidationSimilarityThreshold > 1 {
		return acmserr.NewConfigurationError("reflection.consolidation_similarity_threshold", "must be within [0,1]")
	}
	if c.Reflection.DedupSimilarityThreshold < 0 || c.Reflection.DedupSimilarityThreshold > 1 {
		return acmserr.NewConfigurationError("reflection.dedup_similarity_threshold", "must be within [0,1]")
	}
	return nil
}

// NewConfig returns DefaultConfig with opts applied, validating the result.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigOption mutates a Config under construction.
type ConfigOption func(*Config)

// WeightFor returns the recall boost weight for marker, falling back to
// DefaultCustomMarkerWeight when unset.
func (w MarkerWeights) WeightFor(marker string) float64 {
	if weight, ok := w[marker]; ok {
		return weight
	}
	return DefaultCustomMarkerWeight
}

// Save writes the config to path. The extension selects the format:
// ".json" for JSON, ".yml"/".yaml" for YAML.
func (c *Config) Save(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return c.saveJSON(path)
	case ".yml", ".yaml":
		return c.saveYAML(path)
	default:
		return fmt.Errorf("acms: unsupported config file extension %q", ext)
	}
}

func (c *Config) saveJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) saveYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadConfig reads a Config from path (JSON or YAML, by extension),
// applying defaults for unset fields and validating the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("acms: unsupported config file extension %q", ext)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
