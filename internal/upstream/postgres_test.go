package upstream

import (
	"context"
	"os"
	"testing"

	"github.com/danielloader/sqlite-pipeline/internal/config"
)

// TestFetchPageAgainstLivePostgres is the one place in this repo that talks to a real
// external dependency: skipped unless TEST_PG_DSN is set, since every other component is
// testable against a fake producer.Source or an in-process httptest.Server. The DSN's
// value is not used for the connection: the test dials through Dial with PG_HOST,
// PG_USER, PG_PASSWORD and PG_DATABASE from the environment on port 5432.
func TestFetchPageAgainstLivePostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping live Postgres integration test")
	}

	ctx := context.Background()
	pg, err := Dial(ctx, &config.Env{
		PGHost:     os.Getenv("PG_HOST"),
		PGPort:     5432,
		PGUser:     os.Getenv("PG_USER"),
		PGPassword: os.Getenv("PG_PASSWORD"),
		PGDatabase: os.Getenv("PG_DATABASE"),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	page, err := pg.FetchPage(ctx, 0, 10)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	for _, r := range page {
		if r.SourceID <= 0 {
			t.Fatalf("expected a positive source id, got %d", r.SourceID)
		}
	}
}
