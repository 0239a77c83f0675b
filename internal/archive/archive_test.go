package archive

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testInput struct {
	Units []string `json:"units"`
	Runs  int      `json:"runs"`
	Seed  int64    `json:"seed"`
}

func setupTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "archive.db")))
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "archive.db")

	a, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Failed to open archive with nested path: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Archive file was not created in nested directory")
	}

	var count int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		t.Errorf("Failed to query runs table: %v", err)
	}
}

func TestOpenTwiceKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run, err := a.SaveRun("battle", testInput{Units: []string{"Knight"}}, map[string]int{"ticks": 4})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	a.Close()

	a, err = Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()
	if _, err := a.GetRun(run.ID); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}); err == nil {
		t.Error("Open accepted an unknown driver")
	}
}

func TestOpenSQLiteWithoutPath(t *testing.T) {
	if _, err := Open(Config{Driver: DialectSQLite}); err == nil {
		t.Error("Open accepted a sqlite archive without a path")
	}
}

func TestSaveAndGetRun(t *testing.T) {
	a := setupTestArchive(t)

	input := testInput{Units: []string{"Knight", "Rogue"}, Runs: 1000, Seed: 42}
	result := map[string]float64{"unit_a_win_rate": 0.61}

	run, err := a.SaveRun("monte_carlo", input, result)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" || run.Fingerprint == "" {
		t.Fatalf("run missing identifiers: %+v", run)
	}

	got, err := a.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Kind != "monte_carlo" || got.Fingerprint != run.Fingerprint {
		t.Errorf("GetRun = %+v, want kind monte_carlo and fingerprint %s", got, run.Fingerprint)
	}

	var decoded testInput
	if err := json.Unmarshal(got.Input, &decoded); err != nil {
		t.Fatalf("stored input is not JSON: %v", err)
	}
	if decoded.Runs != 1000 || decoded.Seed != 42 || len(decoded.Units) != 2 {
		t.Errorf("stored input = %+v", decoded)
	}

	var decodedResult map[string]float64
	if err := json.Unmarshal(got.Result, &decodedResult); err != nil {
		t.Fatalf("stored result is not JSON: %v", err)
	}
	if decodedResult["unit_a_win_rate"] != 0.61 {
		t.Errorf("stored result = %v", decodedResult)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stored")
	}
}

func TestSaveRunEmptyKind(t *testing.T) {
	a := setupTestArchive(t)
	if _, err := a.SaveRun("  ", nil, nil); err == nil {
		t.Error("SaveRun accepted an empty kind")
	}
}

func TestSaveRunUnencodable(t *testing.T) {
	a := setupTestArchive(t)
	if _, err := a.SaveRun("battle", make(chan int), nil); err == nil {
		t.Error("SaveRun accepted an input that cannot be encoded")
	}
}

func TestGetRunNotFound(t *testing.T) {
	a := setupTestArchive(t)
	if _, err := a.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun error = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	a := setupTestArchive(t)

	for i := 0; i < 3; i++ {
		if _, err := a.SaveRun("curve", testInput{Runs: i}, nil); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	if _, err := a.SaveRun("economy", testInput{}, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	all, err := a.ListRuns("", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListRuns(all) returned %d runs, want 4", len(all))
	}

	curves, err := a.ListRuns("curve", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(curves) != 3 {
		t.Errorf("ListRuns(curve) returned %d runs, want 3", len(curves))
	}
	for _, r := range curves {
		if r.Kind != "curve" {
			t.Errorf("ListRuns(curve) returned kind %q", r.Kind)
		}
	}

	limited, err := a.ListRuns("", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRuns(limit 2) returned %d runs", len(limited))
	}

	none, err := a.ListRuns("matrix", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListRuns(matrix) returned %d runs, want 0", len(none))
	}
}

func TestFindByFingerprint(t *testing.T) {
	a := setupTestArchive(t)

	input := testInput{Units: []string{"Tank"}, Seed: 7}
	saved, err := a.SaveRun("matrix", input, []float64{0.5})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	fp, err := Fingerprint("matrix", input)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	found, err := a.FindByFingerprint("matrix", fp)
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if found.ID != saved.ID {
		t.Errorf("FindByFingerprint returned %s, want %s", found.ID, saved.ID)
	}

	if _, err := a.FindByFingerprint("imbalance", fp); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FindByFingerprint with other kind error = %v, want ErrRunNotFound", err)
	}
}

func TestFingerprint(t *testing.T) {
	a1, err := Fingerprint("battle", testInput{Units: []string{"Knight", "Rogue"}, Seed: 1})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	a2, _ := Fingerprint("battle", testInput{Units: []string{"Knight", "Rogue"}, Seed: 1})
	b, _ := Fingerprint("battle", testInput{Units: []string{"Rogue", "Knight"}, Seed: 1})
	c, _ := Fingerprint("monte_carlo", testInput{Units: []string{"Knight", "Rogue"}, Seed: 1})

	if a1 != a2 {
		t.Error("equal inputs produced different fingerprints")
	}
	if a1 == b {
		t.Error("unit order did not change the fingerprint")
	}
	if a1 == c {
		t.Error("kind did not change the fingerprint")
	}
	if len(a1) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex characters", len(a1))
	}

	if _, err := Fingerprint("battle", make(chan int)); err == nil {
		t.Error("Fingerprint accepted an input that cannot be encoded")
	}
}
