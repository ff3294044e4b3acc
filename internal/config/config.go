// Package config loads the engine's hierarchical configuration: built-in
// defaults, overridden by per-validator and root TOML files, overridden by
// TBCV_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Thresholds groups the tunable confidence/similarity thresholds named in
// spec.md §6 "Configuration".
type Thresholds struct {
	FuzzySimilarity    float64 `mapstructure:"fuzzy_similarity"`
	SemanticConfirm    float64 `mapstructure:"semantic_confirm"`
	SemanticDowngrade  float64 `mapstructure:"semantic_downgrade"`
	SemanticUpgrade    float64 `mapstructure:"semantic_upgrade"`
	RewriteRatioCeil   float64 `mapstructure:"rewrite_ratio_ceiling"`
	RecommendConfident float64 `mapstructure:"recommend_confident"`
}

// Concurrency groups the per-operation-class counting semaphore sizes of
// spec.md §4.9/§5.
type Concurrency struct {
	MaxWorkflows    int `mapstructure:"max_workflows"`
	SemanticLLM     int `mapstructure:"semantic_llm"`
	ContentValidate int `mapstructure:"content_validator"`
	Fuzzy           int `mapstructure:"fuzzy"`
	TruthIndex      int `mapstructure:"truth_index"`
}

// Timeouts groups the per-step/per-file/per-batch/link-check timeouts of
// spec.md §5, all configurable.
type Timeouts struct {
	Step      time.Duration `mapstructure:"step"`
	File      time.Duration `mapstructure:"file"`
	Batch     time.Duration `mapstructure:"batch"`
	LinkCheck time.Duration `mapstructure:"link_check"`
}

// Cache groups L1/L2 sizing and TTL configuration.
type Cache struct {
	L1MaxEntries    int           `mapstructure:"l1_max_entries"`
	L1MaxBytes      int64         `mapstructure:"l1_max_bytes"`
	L2CompressAbove int64         `mapstructure:"l2_compress_above"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Boundary groups the access-boundary guard configuration.
type Boundary struct {
	Mode            string   `mapstructure:"mode"` // "block" or "warn"
	AllowList       []string `mapstructure:"allow_list"`
	MaintenanceMode bool     `mapstructure:"maintenance_mode"`
}

// Storage groups the Store's backend configuration.
type Storage struct {
	DSN string `mapstructure:"dsn"`
}

// Enhance groups the Enhancer's safety-gate configuration (spec.md §4.8).
// BlockedTopics is supplemented: spec.md names "blocked topic markers" as a
// gate without defining how they're configured, so it is a plain substring
// deny-list checked case-insensitively against an edit's after-text.
type Enhance struct {
	BlockedTopics []string `mapstructure:"blocked_topics"`
}

// Validator is one validator's own configuration section: enable/disable,
// tier assignment override, severity floor, and validator-specific
// key/value options (downgrade/confirm/upgrade thresholds, etc).
type Validator struct {
	Enabled      bool           `mapstructure:"enabled"`
	Tier         int            `mapstructure:"tier"`
	SeverityFloor string        `mapstructure:"severity_floor"`
	Options      map[string]any `mapstructure:"options"`
}

// Config is the fully merged configuration tree.
type Config struct {
	Thresholds  Thresholds           `mapstructure:"thresholds"`
	Concurrency Concurrency          `mapstructure:"concurrency"`
	Timeouts    Timeouts             `mapstructure:"timeouts"`
	Cache       Cache                `mapstructure:"cache"`
	Boundary    Boundary             `mapstructure:"boundary"`
	Storage     Storage              `mapstructure:"storage"`
	Enhance     Enhance              `mapstructure:"enhance"`
	Validators  map[string]Validator `mapstructure:"validators"`
	TruthDir    string               `mapstructure:"truth_dir"`
	ContentRoot string               `mapstructure:"content_root"`
}

// Defaults returns the built-in default configuration, as Go struct
// literals, before any file or environment layer is applied.
func Defaults() Config {
	return Config{
		Thresholds: Thresholds{
			FuzzySimilarity:    0.85,
			SemanticConfirm:    0.6,
			SemanticDowngrade:  0.4,
			SemanticUpgrade:    0.9,
			RewriteRatioCeil:   0.5,
			RecommendConfident: 0.8,
		},
		Concurrency: Concurrency{
			MaxWorkflows:    16,
			SemanticLLM:     1,
			ContentValidate: 2,
			Fuzzy:           2,
			TruthIndex:      4,
		},
		Timeouts: Timeouts{
			Step:      30 * time.Second,
			File:      30 * time.Second,
			Batch:     30 * time.Minute,
			LinkCheck: 10 * time.Second,
		},
		Cache: Cache{
			L1MaxEntries:    10_000,
			L1MaxBytes:      64 << 20,
			L2CompressAbove: 4 << 10,
			DefaultTTL:      24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Boundary: Boundary{
			Mode:      "block",
			AllowList: nil,
		},
		Storage: Storage{
			DSN: "tbcv.db",
		},
		Enhance: Enhance{
			BlockedTopics: nil,
		},
		Validators:  map[string]Validator{},
		TruthDir:    "truth",
		ContentRoot: ".",
	}
}

// Load merges built-in defaults, then root.toml and per-validator TOML
// files under configDir (if it is non-empty and exists), then environment
// overrides prefixed TBCV_ with double-underscore nesting (e.g.
// TBCV_CACHE__L1_MAX_ENTRIES). Reload is explicit: callers re-invoke Load
// between workflows, never mid-validation (spec.md §9(c)'s conservatism
// extends to runtime config).
func Load(configDir string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	defaults := Defaults()
	setDefaultsFromStruct(v, defaults)

	if configDir != "" {
		rootFile := filepath.Join(configDir, "root.toml")
		v.SetConfigFile(rootFile)
		if err := v.MergeInConfig(); err != nil {
			if !isFileNotFound(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", rootFile, err)
			}
		}

		validatorFiles, err := filepath.Glob(filepath.Join(configDir, "validators", "*.toml"))
		if err != nil {
			return Config{}, fmt.Errorf("config: globbing validator configs: %w", err)
		}
		for _, vf := range validatorFiles {
			id := strings.TrimSuffix(filepath.Base(vf), ".toml")
			sub := viper.New()
			sub.SetConfigFile(vf)
			if err := sub.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("config: reading validator config %s: %w", vf, err)
			}
			v.Set("validators."+id, sub.AllSettings())
		}
	}

	v.SetEnvPrefix("TBCV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling merged config: %w", err)
	}
	return cfg, nil
}

func isFileNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return os.IsNotExist(err)
}

// setDefaultsFromStruct registers every default field on v so that
// MergeInConfig/AutomaticEnv layer on top of them rather than replacing an
// unset section with a zero value.
func setDefaultsFromStruct(v *viper.Viper, cfg Config) {
	v.SetDefault("thresholds.fuzzy_similarity", cfg.Thresholds.FuzzySimilarity)
	v.SetDefault("thresholds.semantic_confirm", cfg.Thresholds.SemanticConfirm)
	v.SetDefault("thresholds.semantic_downgrade", cfg.Thresholds.SemanticDowngrade)
	v.SetDefault("thresholds.semantic_upgrade", cfg.Thresholds.SemanticUpgrade)
	v.SetDefault("thresholds.rewrite_ratio_ceiling", cfg.Thresholds.RewriteRatioCeil)
	v.SetDefault("thresholds.recommend_confident", cfg.Thresholds.RecommendConfident)

	v.SetDefault("concurrency.max_workflows", cfg.Concurrency.MaxWorkflows)
	v.SetDefault("concurrency.semantic_llm", cfg.Concurrency.SemanticLLM)
	v.SetDefault("concurrency.content_validator", cfg.Concurrency.ContentValidate)
	v.SetDefault("concurrency.fuzzy", cfg.Concurrency.Fuzzy)
	v.SetDefault("concurrency.truth_index", cfg.Concurrency.TruthIndex)

	v.SetDefault("timeouts.step", cfg.Timeouts.Step)
	v.SetDefault("timeouts.file", cfg.Timeouts.File)
	v.SetDefault("timeouts.batch", cfg.Timeouts.Batch)
	v.SetDefault("timeouts.link_check", cfg.Timeouts.LinkCheck)

	v.SetDefault("cache.l1_max_entries", cfg.Cache.L1MaxEntries)
	v.SetDefault("cache.l1_max_bytes", cfg.Cache.L1MaxBytes)
	v.SetDefault("cache.l2_compress_above", cfg.Cache.L2CompressAbove)
	v.SetDefault("cache.default_ttl", cfg.Cache.DefaultTTL)
	v.SetDefault("cache.cleanup_interval", cfg.Cache.CleanupInterval)

	v.SetDefault("boundary.mode", cfg.Boundary.Mode)
	v.SetDefault("boundary.allow_list", cfg.Boundary.AllowList)
	v.SetDefault("boundary.maintenance_mode", cfg.Boundary.MaintenanceMode)

	v.SetDefault("storage.dsn", cfg.Storage.DSN)
	v.SetDefault("enhance.blocked_topics", cfg.Enhance.BlockedTopics)
	v.SetDefault("truth_dir", cfg.TruthDir)
	v.SetDefault("content_root", cfg.ContentRoot)
}
