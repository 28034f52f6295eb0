package term

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTable = `
terms:
  - canonical: "srimad bhagavad gita"
    variants: ["bhagavad gita", "bhagavat gita"]
    transliteration: "Śrīmad Bhagavad Gītā"
    category: scripture-title
    confidence: 0.95
  - canonical: "krishna"
    variants: ["krsna", "krishn"]
    transliteration: "Kṛṣṇa"
    category: deity-name
    confidence: 0.9
  - canonical: "dharma"
    category: philosophical-concept
    confidence: high
  - canonical: "maya"
    category: illusion
    confidence: 0.8
  - canonical: ""
    confidence: 0.8
`

func writeTable(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	return path
}

func TestLoadFromReader_SkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	entries, err := LoadFromReader(strings.NewReader(sampleTable), "sample.yaml")
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("loaded %d entries, want 2 (three records are malformed)", len(entries))
	}

	gita := entries[0]
	if !gita.Compound {
		t.Error("multi-word canonical form should be marked compound")
	}
	if gita.SourceFile != "sample.yaml" {
		t.Errorf("SourceFile = %q, want sample.yaml", gita.SourceFile)
	}
	if entries[1].Compound {
		t.Error("single-word entry must not be compound")
	}
}

func TestCheckFile_ReportsSkippedRecords(t *testing.T) {
	t.Parallel()

	path := writeTable(t, t.TempDir(), "sample.yaml", sampleTable)
	entries, skipped, err := CheckFile(path)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("loaded %d entries, want 2", len(entries))
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped %d records, want 3", len(skipped))
	}
	for i, s := range skipped {
		if s.Line <= 0 {
			t.Errorf("skipped[%d] has no line number", i)
		}
		if i > 0 && s.Line <= skipped[i-1].Line {
			t.Errorf("skipped records out of order: %d after %d", s.Line, skipped[i-1].Line)
		}
	}
	if !strings.Contains(skipped[0].Error(), "malformed") {
		t.Errorf("first skip = %q, want a decode failure", skipped[0].Error())
	}
	if !strings.Contains(skipped[1].Error(), "invalid") {
		t.Errorf("second skip = %q, want a validation failure", skipped[1].Error())
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	entries, err := LoadFromReader(strings.NewReader("terms:\n  - canonical: yoga\n    confidence: 0.8\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("loaded %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Category != CategoryGeneric {
		t.Errorf("Category = %q, want generic", e.Category)
	}
	if e.Transliteration != "yoga" {
		t.Errorf("Transliteration = %q, want canonical fallback", e.Transliteration)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	entries, err := LoadFromReader(strings.NewReader(""), "")
	if err != nil {
		t.Fatalf("empty document: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("loaded %d entries from an empty document", len(entries))
	}
}

func TestLoadFromReader_UnknownTopLevelKey(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("entries: []\n"), "")
	if err == nil {
		t.Fatal("unknown top-level key should be rejected")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		e       Entry
		wantErr []string
	}{
		{
			name: "valid",
			e:    Entry{Canonical: "om", Category: CategoryRitualTerm, Confidence: 1},
		},
		{
			name:    "empty canonical",
			e:       Entry{Category: CategoryGeneric},
			wantErr: []string{"canonical"},
		},
		{
			name:    "bad category and confidence",
			e:       Entry{Canonical: "x", Category: "nope", Confidence: 1.5},
			wantErr: []string{"category", "confidence"},
		},
		{
			name:    "blank variant",
			e:       Entry{Canonical: "x", Category: CategoryGeneric, Variants: []string{"ok", "  "}},
			wantErr: []string{"variants[1]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.e)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, sub := range tt.wantErr {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q does not mention %q", err, sub)
				}
			}
		})
	}
}
