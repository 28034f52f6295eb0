package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Log level and term files can be applied without a restart; every other
// change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FilesAdded and FilesRemoved list term files by path.
	FilesAdded   []string
	FilesRemoved []string

	// RestartRequired names the changed settings that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.FilesAdded) == 0 && len(d.FilesRemoved) == 0 && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	for _, f := range new.Terms.Files {
		if !slices.Contains(old.Terms.Files, f) {
			d.FilesAdded = append(d.FilesAdded, f)
		}
	}
	for _, f := range old.Terms.Files {
		if !slices.Contains(new.Terms.Files, f) {
			d.FilesRemoved = append(d.FilesRemoved, f)
		}
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("cache", old.Cache.IsEnabled() != new.Cache.IsEnabled() ||
		old.Cache.MaxEntries != new.Cache.MaxEntries ||
		old.Cache.MaxMemoryBytes != new.Cache.MaxMemoryBytes)
	restart("terms.confidence_threshold", old.Terms.ConfidenceThreshold != new.Terms.ConfidenceThreshold)
	restart("terms.reload_on_change", old.Terms.ReloadEnabled() != new.Terms.ReloadEnabled())
	restart("terms.store", old.Terms.Store != new.Terms.Store)
	restart("compound", old.Compound != new.Compound)
	restart("sacred", old.Sacred.IsEnabled() != new.Sacred.IsEnabled())
	restart("classifier", old.Classifier != new.Classifier)
	restart("fuzzy", old.Fuzzy != new.Fuzzy)
	restart("batch", old.Batch != new.Batch)
	restart("server", old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
