//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/ruleng/gifts"
	"github.com/liamcoop/ruleng/internal/config"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := openDB(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	migrations, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil || len(migrations) == 0 {
		t.Fatalf("Failed to find migration files: %v", err)
	}
	for _, path := range migrations {
		migrationSQL, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read migration file %s: %v", path, err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			t.Fatalf("Failed to run migration %s: %v", path, err)
		}
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

// TestEndToEnd_DistributionWithPostgres runs the distribution rule set through the
// HTTP API against a PostgreSQL ledger:
// 1. Evaluate the same student three times
// 2. List the student's grants
// 3. Check health reports the postgres ledger
func TestEndToEnd_DistributionWithPostgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ann := gifts.Student{Name: "ann", Age: 12, Gender: "girl", Grade: 5, ClassNum: 3}

	t.Log("Step 1: Evaluating distribution three times...")
	var granted []string
	for i := 0; i < 3; i++ {
		code, resp := evaluate(t, server, gifts.DistributionRuleSet, ann)
		if code != http.StatusOK {
			t.Fatalf("run %d: status = %d: %v", i, code, resp)
		}
		granted = append(granted, grantedGifts(resp)...)
	}
	if strings.Join(granted, ",") != "bigGift,girlGift,sticker" {
		t.Errorf("granted = %v, want [bigGift girlGift sticker]", granted)
	}

	t.Log("Step 2: Listing grants...")
	rec, resp := do(t, server, http.MethodGet, "/api/v1/grants?student=ann", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grants status = %d", rec.Code)
	}
	if list, _ := resp["grants"].([]any); len(list) != 3 {
		t.Errorf("grants = %v, want 3 entries", list)
	}

	t.Log("Step 3: Checking health...")
	rec, resp = do(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK || resp["ledger"] != "postgres" {
		t.Errorf("health = %d %v", rec.Code, resp)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	db, cleanup := setupTestDB(t)

	server, err := NewServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	cleanup()

	rec, resp := do(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable || resp["status"] != "unhealthy" {
		t.Errorf("health = %d %v, want 503 unhealthy", rec.Code, resp)
	}
}
