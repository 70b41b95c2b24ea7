//go:build integration

package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/database"
)

var (
	testDB  *pgxpool.Pool
	testDSN string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "pulsegrid_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Printf("Failed to start container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate container: %v\n", err)
		}
	}()

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")

	testDSN = fmt.Sprintf("postgres://test:test@%s:%s/pulsegrid_test?sslmode=disable", host, port.Port())

	// Run migrations through the embedded migrator
	sqlDB, err := sql.Open("pgx", testDSN)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	migrator, err := database.NewMigrator(sqlDB, "pulsegrid_test")
	if err != nil {
		fmt.Printf("Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}
	_ = sqlDB.Close()

	testDB, err = pgxpool.New(ctx, testDSN)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	code := m.Run()
	os.Exit(code)
}

func newTestRouter() *Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, &Dependencies{
		Config: &config.Config{
			Environment:           "test",
			DatabaseURL:           testDSN,
			IngestRateWindow:      60,
			WebhookTimeoutSeconds: 5,
		},
		DB: testDB,
	})
	router.Setup()
	return router
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	router := newTestRouter()
	defer router.Shutdown()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := router.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("status = %v, want ok", result["status"])
	}
}

func TestIntegration_IngestAndQuery(t *testing.T) {
	router := newTestRouter()
	defer router.Shutdown()

	payload := map[string]any{
		"device_id": "it-dev-1",
		"source":    "sensors",
		"type":      "reading",
		"data":      map[string]any{"temperature": 21.5},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := router.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != 202 {
		t.Fatalf("Status = %d, want 202", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/api/v1/events?device_ids=it-dev-1", nil)
	resp, err = router.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		Count int `json:"count"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.Count < 1 {
		t.Errorf("count = %d, want >= 1", result.Count)
	}
}

func TestIntegration_RuleLifecycle(t *testing.T) {
	router := newTestRouter()
	defer router.Shutdown()

	create := map[string]any{
		"name":     "integration high temp",
		"severity": "critical",
		"channels": []string{"ui"},
		"conditions": []map[string]any{
			{"field": "temperature", "operator": "gt", "value": 30},
		},
	}
	body, _ := json.Marshal(create)

	req := httptest.NewRequest("POST", "/api/v1/rules", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := router.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != 201 {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Status = %d, want 201 (%s)", resp.StatusCode, raw)
	}

	var created struct {
		Rule struct {
			ID string `json:"id"`
		} `json:"rule"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	req = httptest.NewRequest("DELETE", "/api/v1/rules/"+created.Rule.ID, nil)
	resp, err = router.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != 204 {
		t.Errorf("Status = %d, want 204", resp.StatusCode)
	}
}
