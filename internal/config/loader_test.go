package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/sutra/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "log_level: loud\nterms:\n  files: [a.yaml]\n",
			wantErr: "log_level",
		},
		{
			name:    "threshold above one",
			yaml:    "terms:\n  files: [a.yaml]\n  confidence_threshold: 1.5\n",
			wantErr: "terms.confidence_threshold",
		},
		{
			name:    "unknown store driver",
			yaml:    "terms:\n  files: [a.yaml]\n  store:\n    driver: mysql\n    dsn: x\n",
			wantErr: "terms.store.driver",
		},
		{
			name:    "store without dsn",
			yaml:    "terms:\n  files: [a.yaml]\n  store:\n    driver: sqlite\n",
			wantErr: "terms.store.dsn",
		},
		{
			name:    "compound window too small",
			yaml:    "terms:\n  files: [a.yaml]\ncompound:\n  max_words: 1\n",
			wantErr: "compound.max_words",
		},
		{
			name:    "mixed signals below two",
			yaml:    "terms:\n  files: [a.yaml]\nclassifier:\n  mixed_min_signals: 1\n",
			wantErr: "classifier.mixed_min_signals",
		},
		{
			name:    "fuzzy threshold out of range",
			yaml:    "terms:\n  files: [a.yaml]\nfuzzy:\n  fuzzy_threshold: 2\n",
			wantErr: "fuzzy.fuzzy_threshold",
		},
		{
			name:    "negative workers",
			yaml:    "terms:\n  files: [a.yaml]\nbatch:\n  workers: -1\n",
			wantErr: "batch.workers",
		},
		{
			name:    "partial tls",
			yaml:    "terms:\n  files: [a.yaml]\nserver:\n  tls:\n    cert_file: c.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "empty file entry",
			yaml:    "terms:\n  files: [\"\"]\n",
			wantErr: "terms.files[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	yaml := `
log_level: loud
terms:
  confidence_threshold: 3
compound:
  max_words: 1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "terms.files", "terms.confidence_threshold", "compound.max_words"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_StoreOnlyIsValid(t *testing.T) {
	t.Parallel()

	yaml := "terms:\n  store:\n    driver: sqlite\n    dsn: terms.db\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("a structured store alone should be enough term data: %v", err)
	}
}
