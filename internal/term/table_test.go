package term

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTable_Lookup(t *testing.T) {
	t.Parallel()

	path := writeTable(t, t.TempDir(), "terms.yaml", sampleTable)
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	tests := []struct {
		query     string
		canonical string
	}{
		{"Krishna", "krishna"},
		{"KRSNA", "krishna"},
		{"kṛṣṇa", "krishna"},
		{"Bhagavad  Gita", "srimad bhagavad gita"},
		{"śrīmad bhagavad gītā", "srimad bhagavad gita"},
	}
	for _, tt := range tests {
		e, ok := tbl.Lookup(tt.query)
		if !ok {
			t.Errorf("Lookup(%q) missed", tt.query)
			continue
		}
		if e.Canonical != tt.canonical {
			t.Errorf("Lookup(%q) = %q, want %q", tt.query, e.Canonical, tt.canonical)
		}
	}

	if _, ok := tbl.Lookup("arjuna"); ok {
		t.Error("Lookup(arjuna) should miss")
	}
	if tbl.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", tbl.MaxWords())
	}
	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}
}

func TestTable_DiacriticInsensitiveFallback(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Add(Entry{Canonical: "nirvana", Transliteration: "nirvāṇa", Category: CategoryPhilosophicalConcept, Confidence: 0.9})

	e, ok := tbl.Lookup("nirvāna")
	if !ok || e.Canonical != "nirvana" {
		t.Fatalf("Lookup(nirvāna) = %+v, %v; want the nirvana entry", e, ok)
	}
}

func TestTable_HigherConfidenceWinsKey(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Add(
		Entry{Canonical: "rama", Variants: []string{"ram"}, Category: CategoryDeityName, Confidence: 0.9},
		Entry{Canonical: "ram", Category: CategoryGeneric, Confidence: 0.5},
	)
	e, ok := tbl.Lookup("ram")
	if !ok || e.Canonical != "rama" {
		t.Fatalf("Lookup(ram) = %q, want rama", e.Canonical)
	}
}

func TestTable_ReloadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTable(t, dir, "terms.yaml", "terms:\n  - canonical: shiva\n    confidence: 0.9\n")
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup("shiva"); !ok {
		t.Fatal("shiva should be loaded")
	}

	writeTable(t, dir, "terms.yaml", "terms:\n  - canonical: vishnu\n    confidence: 0.9\n")
	if err := tbl.ReloadFile(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup("shiva"); ok {
		t.Error("shiva should be gone after reload")
	}
	if _, ok := tbl.Lookup("vishnu"); !ok {
		t.Error("vishnu should be present after reload")
	}
	if got := len(tbl.Files()); got != 1 {
		t.Errorf("Files = %d, want 1", got)
	}
}

func TestTable_RemoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTable(t, dir, "a.yaml", "terms:\n  - canonical: shiva\n    confidence: 0.9\n")
	b := writeTable(t, dir, "b.yaml", "terms:\n  - canonical: vishnu\n    confidence: 0.9\n")
	tbl, err := LoadTable(a, b)
	if err != nil {
		t.Fatal(err)
	}
	gen := tbl.Generation()

	if !tbl.RemoveFile(a) {
		t.Fatal("RemoveFile should report a known file")
	}
	if _, ok := tbl.Lookup("shiva"); ok {
		t.Error("shiva should be gone with its file")
	}
	if _, ok := tbl.Lookup("vishnu"); !ok {
		t.Error("vishnu must survive")
	}
	if got := tbl.Files(); len(got) != 1 || got[0] != b {
		t.Errorf("Files = %v, want [%s]", got, b)
	}
	if tbl.Generation() == gen {
		t.Error("generation should advance on removal")
	}
	if tbl.RemoveFile(a) {
		t.Error("second RemoveFile should report an unknown file")
	}
}

func TestLoadTable_NoData(t *testing.T) {
	t.Parallel()

	path := writeTable(t, t.TempDir(), "empty.yaml", "terms: []\n")
	if _, err := LoadTable(path); !errors.Is(err, ErrNoTermData) {
		t.Fatalf("err = %v, want ErrNoTermData", err)
	}
}

func TestTable_ConcurrentReadsDuringReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTable(t, dir, "terms.yaml", sampleTable)
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, ok := tbl.Lookup("krishna"); !ok {
					t.Error("krishna must stay visible across reloads")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		if err := tbl.ReloadFile(path); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestTable_Stale(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTable(t, dir, "terms.yaml", "terms:\n  - canonical: shiva\n    confidence: 0.9\n")
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Stale(path) {
		t.Fatal("freshly loaded file must not be stale")
	}
	if tbl.Stale(filepath.Join(dir, "unknown.yaml")) {
		t.Error("unknown paths are never stale")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	later := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if !tbl.Stale(path) {
		t.Error("file with a newer mtime should be stale")
	}
	if err := tbl.ReloadFile(path); err != nil {
		t.Fatal(err)
	}
	if tbl.Stale(path) {
		t.Error("reloaded file must not be stale")
	}
}

func TestTable_ReloadDeletedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTable(t, dir, "terms.yaml", "terms:\n  - canonical: shiva\n    confidence: 0.9\n")
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !tbl.Stale(path) {
		t.Fatal("deleted file should be stale")
	}

	gen := tbl.Generation()
	if err := tbl.ReloadFile(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReloadFile err = %v, want not exist", err)
	}
	if _, ok := tbl.Lookup("shiva"); ok {
		t.Error("entries of a deleted file must be dropped")
	}
	if tbl.Generation() == gen {
		t.Error("dropping entries must bump the generation")
	}
	if tbl.Stale(path) {
		t.Error("missing file must not stay stale")
	}

	writeTable(t, dir, "terms.yaml", "terms:\n  - canonical: vishnu\n    confidence: 0.9\n")
	if !tbl.Stale(path) {
		t.Fatal("recreated file should be stale")
	}
	if err := tbl.ReloadFile(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup("vishnu"); !ok {
		t.Error("vishnu should be loaded from the recreated file")
	}
}
