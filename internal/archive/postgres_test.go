package archive

import (
	"errors"
	"os"
	"strconv"
	"testing"
	"time"
)

// postgresTestConfig returns a PostgreSQL config when BALANCE_TEST_POSTGRES
// is set. Connection settings come from:
//
//	BALANCE_TEST_POSTGRES_HOST (default: localhost)
//	BALANCE_TEST_POSTGRES_PORT (default: 5432)
//	BALANCE_TEST_POSTGRES_USER (default: balance)
//	BALANCE_TEST_POSTGRES_PASSWORD (default: balance)
//	BALANCE_TEST_POSTGRES_DATABASE (default: balance_test)
func postgresTestConfig(t *testing.T) Config {
	t.Helper()
	if os.Getenv("BALANCE_TEST_POSTGRES") == "" {
		t.Skip("Skipping PostgreSQL test: BALANCE_TEST_POSTGRES not set")
	}

	env := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	port, err := strconv.Atoi(env("BALANCE_TEST_POSTGRES_PORT", "5432"))
	if err != nil {
		t.Fatalf("bad BALANCE_TEST_POSTGRES_PORT: %v", err)
	}

	return Config{
		Driver: DialectPostgres,
		Postgres: PostgresConfig{
			Host:            env("BALANCE_TEST_POSTGRES_HOST", "localhost"),
			Port:            port,
			User:            env("BALANCE_TEST_POSTGRES_USER", "balance"),
			Password:        env("BALANCE_TEST_POSTGRES_PASSWORD", "balance"),
			Database:        env("BALANCE_TEST_POSTGRES_DATABASE", "balance_test"),
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Minute,
		},
	}
}

func TestPostgres_SaveAndFind(t *testing.T) {
	a, err := Open(postgresTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to open PostgreSQL archive: %v", err)
	}
	defer a.Close()

	if _, err := a.db.Exec("DELETE FROM runs WHERE kind = 'pg_test'"); err != nil {
		t.Fatalf("Failed to clear test runs: %v", err)
	}

	input := testInput{Units: []string{"Knight"}, Seed: 99}
	run, err := a.SaveRun("pg_test", input, map[string]int{"ticks": 3})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := a.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Fingerprint != run.Fingerprint {
		t.Errorf("fingerprint = %s, want %s", got.Fingerprint, run.Fingerprint)
	}

	found, err := a.FindByFingerprint("pg_test", run.Fingerprint)
	if err != nil || found.ID != run.ID {
		t.Errorf("FindByFingerprint = %v, %v", found, err)
	}

	runs, err := a.ListRuns("pg_test", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns returned %d runs, want 1", len(runs))
	}

	if _, err := a.GetRun("00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun error = %v, want ErrRunNotFound", err)
	}
}
