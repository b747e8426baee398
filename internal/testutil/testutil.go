package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-service/internal/database"
	"ledger-service/internal/events"
	"ledger-service/internal/handlers"
	"ledger-service/internal/idempotency"
	"ledger-service/internal/logger"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/models"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type TestServer struct {
	Server  *httptest.Server
	DB      *sql.DB
	Store   repository.Store
	Cleanup func()
	client  *http.Client
}

// StartPostgres runs a throwaway Postgres container and returns its DSN.
// The container is terminated when the test finishes.
func StartPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ledger_test",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "password",
		},
		// the server logs readiness twice: once for the init run, once for real
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://postgres:password@%s:%s/ledger_test?sslmode=disable", host, port.Port())
}

// SetupTestServer serves the full stack backed by a Postgres container.
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	databaseURL := StartPostgres(t)

	db, err := database.NewConnection(context.Background(), databaseURL, logger.NewNop())
	require.NoError(t, err)

	ts := newTestServer(repository.NewPostgresStore(db, logger.NewNop()))
	ts.DB = db

	closeServer := ts.Cleanup
	ts.Cleanup = func() {
		closeServer()
		db.Close()
	}

	return ts
}

// SetupMemoryServer serves the full stack on the in-memory store.
func SetupMemoryServer(t *testing.T) *TestServer {
	t.Helper()
	return newTestServer(repository.NewMemoryStore())
}

func newTestServer(store repository.Store) *TestServer {
	log := logger.NewNop()
	registry := idempotency.NewMemoryRegistry(time.Hour, 30*time.Second, 5*time.Second)

	accountService := service.NewAccountService(store, log)
	transactionService := service.NewTransactionService(store, registry, events.NopPublisher{}, log)

	accountHandler := handlers.NewAccountHandler(accountService, transactionService)
	transactionHandler := handlers.NewTransactionHandler(transactionService)
	healthHandler := handlers.NewHealthHandler(store)

	router := handlers.SetupRoutes(accountHandler, transactionHandler, healthHandler, log, []string{"*"})

	server := httptest.NewServer(router)

	return &TestServer{
		Server:  server,
		Store:   store,
		Cleanup: server.Close,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(t *testing.T, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, dst), "body: %s", string(r.Body))
}

func (r *Response) ErrorCode(t *testing.T) string {
	t.Helper()
	var body handlers.ErrorResponse
	r.Decode(t, &body)
	return body.Error
}

// Do sends a request. A non-empty body is sent as application/json.
func (ts *TestServer) Do(t *testing.T, method, path, body string, headers map[string]string) *Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}
}

func (ts *TestServer) CreateAccount(t *testing.T, currency string) models.Account {
	t.Helper()

	payload := fmt.Sprintf(`{"name": "test account", "description": "created by tests", "currency": %q}`, currency)
	resp := ts.Do(t, http.MethodPost, "/v1/accounts", payload, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(resp.Body))

	var account models.Account
	resp.Decode(t, &account)
	return account
}

func (ts *TestServer) GetAccount(t *testing.T, id string) models.Account {
	t.Helper()

	resp := ts.Do(t, http.MethodGet, "/v1/accounts/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))

	var account models.Account
	resp.Decode(t, &account)
	return account
}

// PostTransaction creates a transaction. path is "/v1/transactions" or
// "/v1/transactions/immediate".
func (ts *TestServer) PostTransaction(t *testing.T, path, key, accountID string, amount int64, currency string, direction models.TransactionDirection) *Response {
	t.Helper()

	payload := fmt.Sprintf(`{
		"account_id": %q,
		"money": {"amount": %d, "currency": %q},
		"direction": %q,
		"memo": "test"
	}`, accountID, amount, currency, direction)

	return ts.Do(t, http.MethodPost, path, payload, map[string]string{
		handlers.HeaderIdempotencyKey: key,
	})
}

func (ts *TestServer) CreateTransaction(t *testing.T, path, key, accountID string, amount int64, direction models.TransactionDirection) models.Transaction {
	t.Helper()

	resp := ts.PostTransaction(t, path, key, accountID, amount, "USD", direction)
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, resp.StatusCode, string(resp.Body))

	var txn models.Transaction
	resp.Decode(t, &txn)
	return txn
}
