package main

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"balance-service/internal/config"
	"balance-service/internal/server"
	"balance-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	testAdminPassword = "test-admin-password"
	testSharedSecret  = "test-shared-secret"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *tcpostgres.PostgresContainer
	serverInstance    *server.Server
	serverPort        string
	baseURL           string
	client            *http.Client
	dbConnStr         string
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("balance_service"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		suite.T().Fatalf("Failed to get connection string: %s", err)
	}
	suite.dbConnStr = connStr

	if err := suite.runMigrations(); err != nil {
		suite.T().Fatalf("Failed to run migrations: %s", err)
	}

	if err := suite.startApplicationServer(); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}

	suite.client = &http.Client{
		Timeout: 30 * time.Second,
	}
}

func (suite *IntegrationTestSuite) runMigrations() error {
	db, err := sql.Open("postgres", suite.dbConnStr)
	if err != nil {
		return err
	}
	defer db.Close()

	migrationFiles, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Sort migration files by name (version)
	sort.Slice(migrationFiles, func(i, j int) bool {
		return migrationFiles[i].Name() < migrationFiles[j].Name()
	})

	for _, file := range migrationFiles {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationPath := filepath.Join("migrations", file.Name())
			migrationSQL, err := migrationsFS.ReadFile(migrationPath)
			if err != nil {
				return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
			}

			if _, err := db.Exec(string(migrationSQL)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
			}
		}
	}

	return nil
}

func (suite *IntegrationTestSuite) startApplicationServer() error {
	cfg := &config.Config{
		ServerPort:      "0", // Let OS choose a free port
		StoreBackend:    "postgres",
		DatabaseURL:     suite.dbConnStr,
		BalancesKey:     "balances.json",
		MembersKey:      "promo-members.json",
		IntentsKey:      "promo-intents.json",
		PasscodeBackend: "memory",
		AdminPassword:   testAdminPassword,
		SharedSecret:    testSharedSecret,
		RateURL:         "http://127.0.0.1:1", // unreachable, the fallback rate applies
		RateCurrency:    "NGN",
	}

	serverInstance, port, err := server.StartServer(cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.serverPort = port
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}

	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

// post sends a JSON request and returns the status code plus the decoded body.
func (suite *IntegrationTestSuite) post(path string, payload map[string]interface{}, headers map[string]string) (int, map[string]interface{}) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, suite.baseURL+path, bytes.NewReader(body))
	if err != nil {
		suite.T().Fatalf("Failed to build request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return suite.do(req)
}

func (suite *IntegrationTestSuite) adminRequest(method, path string, payload map[string]interface{}) (int, map[string]interface{}) {
	var reader io.Reader
	if payload != nil {
		body, _ := json.Marshal(payload)
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	if err != nil {
		suite.T().Fatalf("Failed to build request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Password", testAdminPassword)
	return suite.do(req)
}

func (suite *IntegrationTestSuite) do(req *http.Request) (int, map[string]interface{}) {
	resp, err := suite.client.Do(req)
	if err != nil {
		suite.T().Fatalf("Request failed: %s", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			suite.T().Logf("Unparseable response body: %s", raw)
		}
	}
	return resp.StatusCode, parsed
}

func (suite *IntegrationTestSuite) errorCode(body map[string]interface{}) string {
	errorData, ok := body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := errorData["code"].(string)
	return code
}

func (suite *IntegrationTestSuite) balanceOf(subject string) int64 {
	status, body := suite.post("/balance", map[string]interface{}{"subject": subject}, nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		suite.T().Fatalf("Balance response missing data: %v", body)
	}
	return int64(data["minor"].(float64))
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods). They run in the order
// invoked by TestFlow for deterministic sequencing.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	resp, err := suite.client.Get(suite.baseURL + "/health")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var healthResp map[string]interface{}
	err = json.Unmarshal(body, &healthResp)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "healthy", healthResp["status"])
}

func (suite *IntegrationTestSuite) stepUnknownSubjectReadsZero() {
	assert.Equal(suite.T(), int64(0), suite.balanceOf("7000000001"))
}

func (suite *IntegrationTestSuite) stepAdminCredit() {
	status, body := suite.adminRequest(http.MethodPost, "/admin/adjustments", map[string]interface{}{
		"subject":      "7000000001",
		"amount_minor": 10000,
		"direction":    "credit",
	})
	assert.Equal(suite.T(), http.StatusOK, status)

	data := body["data"].(map[string]interface{})
	assert.Equal(suite.T(), float64(10000), data["minor"])

	// The balance survived a fresh read through the store.
	assert.Equal(suite.T(), int64(10000), suite.balanceOf("7000000001"))
}

func (suite *IntegrationTestSuite) stepAdminDebit() {
	status, body := suite.adminRequest(http.MethodPost, "/admin/adjustments", map[string]interface{}{
		"subject":      "7000000001",
		"amount_minor": 3000,
		"direction":    "debit",
	})
	assert.Equal(suite.T(), http.StatusOK, status)

	data := body["data"].(map[string]interface{})
	assert.Equal(suite.T(), float64(7000), data["minor"])
}

func (suite *IntegrationTestSuite) stepDebitBelowZeroRejected() {
	status, body := suite.adminRequest(http.MethodPost, "/admin/adjustments", map[string]interface{}{
		"subject":      "7000000001",
		"amount_minor": 50000,
		"direction":    "debit",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "insufficient_funds", suite.errorCode(body))

	assert.Equal(suite.T(), int64(7000), suite.balanceOf("7000000001"))
}

func (suite *IntegrationTestSuite) stepWrongAdminPasswordRejected() {
	payload, _ := json.Marshal(map[string]interface{}{
		"subject": "7000000001", "amount_minor": 100, "direction": "credit",
	})
	req, _ := http.NewRequest(http.MethodPost, suite.baseURL+"/admin/adjustments", bytes.NewReader(payload))
	req.Header.Set("X-Admin-Password", "wrong")
	status, _ := suite.do(req)
	assert.Equal(suite.T(), http.StatusUnauthorized, status)
}

func (suite *IntegrationTestSuite) stepMemberManagement() {
	status, body := suite.adminRequest(http.MethodPut, "/admin/members/7000000002", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	members := data["members"].([]interface{})
	assert.Contains(suite.T(), members, "7000000002")

	status, _ = suite.adminRequest(http.MethodDelete, "/admin/members/7000000002", nil)
	assert.Equal(suite.T(), http.StatusOK, status)

	status, body = suite.adminRequest(http.MethodDelete, "/admin/members/7000000002", nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "member_not_found", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepWithdrawWithoutPasscodeRejected() {
	status, body := suite.post("/withdrawals", map[string]interface{}{
		"subject":      "7000000001",
		"amount_minor": 1000,
		"method":       "bank",
		"passcode":     "000000",
	}, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "passcode_not_found", suite.errorCode(body))

	assert.Equal(suite.T(), int64(7000), suite.balanceOf("7000000001"))
}

func (suite *IntegrationTestSuite) stepPremiumPurchaseWrongSecretRejected() {
	status, body := suite.post("/premium-purchases", map[string]interface{}{
		"buyer":      "7000000001",
		"passcode":   "000000",
		"secret_key": "not-the-secret",
	}, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, status)
	assert.Equal(suite.T(), "unauthorized", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepPromoUnlockWithoutPasscodeRejected() {
	status, body := suite.post("/promo-unlocks", map[string]interface{}{
		"subject":  "7000000001",
		"passcode": "000000",
	}, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "passcode_not_found", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) TestFlow() {
	if testing.Short() {
		suite.T().Skip("Skipping integration test in short mode")
	}

	suite.stepHealthCheck()
	suite.stepUnknownSubjectReadsZero()
	suite.stepAdminCredit()
	suite.stepAdminDebit()
	suite.stepDebitBelowZeroRejected()
	suite.stepWrongAdminPasswordRejected()
	suite.stepMemberManagement()
	suite.stepWithdrawWithoutPasscodeRejected()
	suite.stepPremiumPurchaseWrongSecretRejected()
	suite.stepPromoUnlockWithoutPasscodeRejected()
}

// TestPostgresStoreCompareAndSwap exercises the CAS contract directly against
// the container, outside the HTTP surface.
func (suite *IntegrationTestSuite) TestPostgresStoreCompareAndSwap() {
	if testing.Short() {
		suite.T().Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", suite.dbConnStr)
	if err != nil {
		suite.T().Fatalf("Failed to open database: %s", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pg := store.NewPostgresStore(db, logger)

	// Missing key reads as empty with no version token.
	doc, version, err := pg.Read(ctx, "cas-test.json")
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), doc)
	assert.Empty(suite.T(), version)

	// First write creates the document.
	err = pg.Write(ctx, "cas-test.json", []byte(`{"a":1}`), "", "create")
	assert.NoError(suite.T(), err)

	doc, version, err = pg.Read(ctx, "cas-test.json")
	assert.NoError(suite.T(), err)
	assert.JSONEq(suite.T(), `{"a":1}`, string(doc))
	assert.NotEmpty(suite.T(), version)

	// A write with the current token succeeds and advances the version.
	err = pg.Write(ctx, "cas-test.json", []byte(`{"a":2}`), version, "update")
	assert.NoError(suite.T(), err)

	// Reusing the stale token is rejected.
	err = pg.Write(ctx, "cas-test.json", []byte(`{"a":3}`), version, "stale update")
	assert.Error(suite.T(), err)

	// A duplicate create is rejected too.
	err = pg.Write(ctx, "cas-test.json", []byte(`{"a":4}`), "", "duplicate create")
	assert.Error(suite.T(), err)

	doc, _, err = pg.Read(ctx, "cas-test.json")
	assert.NoError(suite.T(), err)
	assert.JSONEq(suite.T(), `{"a":2}`, string(doc), "rejected writes must not land")
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
