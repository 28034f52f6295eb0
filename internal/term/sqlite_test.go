package term

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "terms.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_UpsertLookup(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()

	n, err := s.Upsert(ctx, []Entry{
		{Canonical: "krishna", Variants: []string{"krsna"}, Transliteration: "Kṛṣṇa", Category: CategoryDeityName, Confidence: 0.9},
		{Canonical: "srimad bhagavad gita", Variants: []string{"bhagavad gita"}, Transliteration: "Śrīmad Bhagavad Gītā", Category: CategoryScriptureTitle, Confidence: 0.95},
		{Canonical: "bad", Category: "nope"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("Upsert wrote %d, want 2", n)
	}

	e, ok, err := s.Lookup(ctx, "KRSNA")
	if err != nil || !ok {
		t.Fatalf("Lookup(KRSNA) = %v, %v", ok, err)
	}
	if e.Transliteration != "Kṛṣṇa" || e.Category != CategoryDeityName {
		t.Errorf("entry = %+v", e)
	}

	e, ok, err = s.Lookup(ctx, "Bhagavad Gita")
	if err != nil || !ok {
		t.Fatalf("Lookup(Bhagavad Gita) = %v, %v", ok, err)
	}
	if !e.Compound {
		t.Error("multi-word entry should round-trip as compound")
	}

	if _, ok, err := s.Lookup(ctx, "arjuna"); err != nil || ok {
		t.Errorf("Lookup(arjuna) = %v, %v; want miss", ok, err)
	}
}

func TestSQLiteStore_UpsertReplacesKeys(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, []Entry{{Canonical: "shiva", Variants: []string{"siva"}, Confidence: 0.9}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, []Entry{{Canonical: "shiva", Variants: []string{"shiv"}, Confidence: 0.9}}); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := s.Lookup(ctx, "siva"); ok {
		t.Error("stale variant siva should no longer resolve")
	}
	if _, ok, _ := s.Lookup(ctx, "shiv"); !ok {
		t.Error("new variant shiv should resolve")
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "terms.db"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, _, err := s.Lookup(context.Background(), "om"); err == nil {
		t.Error("Lookup on a closed store should fail")
	}
}

func TestImport(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	path := writeTable(t, t.TempDir(), "terms.yaml", sampleTable)

	n, err := Import(context.Background(), s, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Fatalf("Import wrote %d, want 2", n)
	}
	if _, ok, err := s.Lookup(context.Background(), "krishn"); err != nil || !ok {
		t.Errorf("imported variant krishn should resolve: %v, %v", ok, err)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := OpenStore(context.Background(), "mongo", ""); err == nil {
		t.Fatal("unknown driver should be rejected")
	}
	s, err := OpenStore(context.Background(), "", "")
	if err != nil || s != nil {
		t.Fatalf("empty driver = %v, %v; want nil, nil", s, err)
	}
}
