package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultCacheMaxEntries     = 10000
	DefaultCacheMaxMemoryBytes = 16 << 20
	DefaultConfidenceThreshold = 0.7
	DefaultStoreTimeout        = 250 * time.Millisecond
	DefaultStoreMaxFailures    = 5
	DefaultStoreResetTimeout   = 30 * time.Second
	DefaultCompoundMaxWords    = 5
	DefaultContextWindow       = 3
	DefaultMantraThreshold     = 2
	DefaultTitleMinWords       = 3
	DefaultMixedMinSignals     = 2
	DefaultCommentaryMinWords  = 8
	DefaultPhoneticThreshold   = 0.90
	DefaultFuzzyThreshold      = 0.95
	DefaultListenAddr          = ":8080"
	DefaultServiceName         = "sutra"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Relative term file paths are resolved against the directory of
// path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, "")
}

func parse(r io.Reader, baseDir string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if baseDir != "" {
		for i, f := range cfg.Terms.Files {
			if f != "" && !filepath.IsAbs(f) {
				cfg.Terms.Files[i] = filepath.Join(baseDir, f)
			}
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.LogLevel, LogInfo)
	setDefault(&cfg.Cache.MaxEntries, DefaultCacheMaxEntries)
	setDefault(&cfg.Cache.MaxMemoryBytes, DefaultCacheMaxMemoryBytes)
	setDefault(&cfg.Terms.ConfidenceThreshold, DefaultConfidenceThreshold)
	setDefault(&cfg.Terms.Store.Timeout, DefaultStoreTimeout)
	setDefault(&cfg.Terms.Store.MaxFailures, DefaultStoreMaxFailures)
	setDefault(&cfg.Terms.Store.ResetTimeout, DefaultStoreResetTimeout)
	setDefault(&cfg.Compound.MaxWords, DefaultCompoundMaxWords)
	setDefault(&cfg.Compound.ContextWindow, DefaultContextWindow)
	setDefault(&cfg.Classifier.MantraKeywordThreshold, DefaultMantraThreshold)
	setDefault(&cfg.Classifier.TitleMinWords, DefaultTitleMinWords)
	setDefault(&cfg.Classifier.MixedMinSignals, DefaultMixedMinSignals)
	setDefault(&cfg.Classifier.CommentaryMinWords, DefaultCommentaryMinWords)
	setDefault(&cfg.Fuzzy.PhoneticThreshold, DefaultPhoneticThreshold)
	setDefault(&cfg.Fuzzy.FuzzyThreshold, DefaultFuzzyThreshold)
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Cache
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.MaxMemoryBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_memory_bytes %d must not be negative", cfg.Cache.MaxMemoryBytes))
	}

	// Terms
	store := cfg.Terms.Store
	if len(cfg.Terms.Files) == 0 && store.Driver == StoreNone {
		errs = append(errs, errors.New("terms.files is required when no terms.store is configured"))
	}
	seen := make(map[string]int, len(cfg.Terms.Files))
	for i, f := range cfg.Terms.Files {
		if f == "" {
			errs = append(errs, fmt.Errorf("terms.files[%d] is empty", i))
			continue
		}
		if prev, ok := seen[f]; ok {
			slog.Warn("config: term file listed twice", "path", f, "first", prev, "again", i)
		}
		seen[f] = i
	}
	if t := cfg.Terms.ConfidenceThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("terms.confidence_threshold %.2f is out of range (0, 1]", t))
	}
	if !store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("terms.store.driver %q is invalid; valid values: sqlite, postgres", store.Driver))
	}
	if store.Driver != StoreNone && store.DSN == "" {
		errs = append(errs, fmt.Errorf("terms.store.dsn is required when terms.store.driver is %q", store.Driver))
	}
	if store.Driver == StoreNone && store.DSN != "" {
		slog.Warn("config: terms.store.dsn is set but no terms.store.driver; the store is ignored")
	}
	if store.Timeout < 0 || store.ResetTimeout < 0 {
		errs = append(errs, errors.New("terms.store timeouts must not be negative"))
	}
	if store.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("terms.store.max_failures %d must not be negative", store.MaxFailures))
	}

	// Compound
	if cfg.Compound.MaxWords < 2 {
		errs = append(errs, fmt.Errorf("compound.max_words %d must be at least 2", cfg.Compound.MaxWords))
	}
	if cfg.Compound.ContextWindow < 1 {
		errs = append(errs, fmt.Errorf("compound.context_window %d must be at least 1", cfg.Compound.ContextWindow))
	}

	// Classifier
	if cfg.Classifier.MixedMinSignals < 2 {
		errs = append(errs, fmt.Errorf("classifier.mixed_min_signals %d must be at least 2", cfg.Classifier.MixedMinSignals))
	}
	if cfg.Classifier.MantraKeywordThreshold < 1 || cfg.Classifier.TitleMinWords < 1 || cfg.Classifier.CommentaryMinWords < 1 {
		errs = append(errs, errors.New("classifier thresholds must be positive"))
	}

	// Fuzzy
	if v := cfg.Fuzzy.PhoneticThreshold; v <= 0 || v > 1 {
		errs = append(errs, fmt.Errorf("fuzzy.phonetic_threshold %.2f is out of range (0, 1]", v))
	}
	if v := cfg.Fuzzy.FuzzyThreshold; v <= 0 || v > 1 {
		errs = append(errs, fmt.Errorf("fuzzy.fuzzy_threshold %.2f is out of range (0, 1]", v))
	}

	if cfg.Batch.Workers < 0 {
		errs = append(errs, fmt.Errorf("batch.workers %d must not be negative", cfg.Batch.Workers))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	return errors.Join(errs...)
}
