// Package integration provides a reusable test harness for end-to-end
// testing of the floe flow engine. It starts a full HTTP server with a mock
// agent capability, in-memory stores, and a test JWT issuer.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/floe/internal/agent"
	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/internal/definition"
	"github.com/pitabwire/floe/internal/flow"
	"github.com/pitabwire/floe/internal/handlers"
	"github.com/pitabwire/floe/internal/observability"
	"github.com/pitabwire/floe/internal/readiness"
	"github.com/pitabwire/floe/internal/transport"
	"github.com/pitabwire/floe/model"
)

const (
	testSecret   = "integration-test-secret"
	testIssuer   = "https://auth.test.floe.dev"
	testAudience = "floe-test"
)

// TestHarness encapsulates a fully wired flow engine with a mock agent
// for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Agent    *MockAgent
	Store    *flow.MemoryCheckpointStore
	Locker   *flow.MemoryLocker
	Registry *definition.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	agentRetry     config.RetryConfig
	agentTimeout   time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths
// are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithAgentRetry overrides the agent retry settings.
func WithAgentRetry(retry config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.agentRetry = retry
	}
}

// NewHarness starts a fully wired engine backed by in-memory stores and a
// mock agent capability.
func NewHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := harnessConfig{
		definitionDirs: []string{"definitions"},
		agentRetry: config.RetryConfig{
			MaxAttempts:    3,
			BackoffInitial: 5 * time.Millisecond,
			BackoffMax:     20 * time.Millisecond,
		},
		agentTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&hc)
	}

	mockAgent := NewMockAgent(t)

	table := handlers.NewTable()
	checks := readiness.NewRegistry()

	dirs := make([]string, len(hc.definitionDirs))
	for i, d := range hc.definitionDirs {
		if filepath.IsAbs(d) {
			dirs[i] = d
		} else {
			dirs[i] = filepath.Join(testdataDir(t), d)
		}
	}
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(dirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	verrs := definition.NewValidator().Validate(defs, definition.Bindings{
		HasValidator:      table.HasValidator,
		HasHandler:        table.HasHandler,
		HasReadinessCheck: checks.Has,
	})
	if len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs[0])
	}
	registry := definition.NewRegistry(defs)

	store := flow.NewMemoryCheckpointStore()
	locker := flow.NewMemoryLocker()
	syncer := flow.NewSynchronizer(store, registry, nil, nil)
	executor := agent.NewHTTPExecutor(config.AgentConfig{
		BaseURL: mockAgent.URL(),
		Timeout: hc.agentTimeout,
		Retry:   hc.agentRetry,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 100,
			SuccessThreshold: 1,
			Timeout:          time.Second,
		},
	}, nil)
	controller := flow.NewController(registry, table, checks, executor, syncer, store, locker, nil, nil)

	cfg := config.Defaults()
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Controller:   controller,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, []byte(testSecret)),
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(registry.FlowTypeNames()) > 0 },
		},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestHarness{
		t:        t,
		server:   server,
		Agent:    mockAgent,
		Store:    store,
		Locker:   locker,
		Registry: registry,
	}
}

// Token signs a test JWT carrying the given tenant scope.
func (h *TestHarness) Token(tenant model.TenantContext) string {
	h.t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":           testIssuer,
		"aud":           testAudience,
		"iat":           jwt.NewNumericDate(now),
		"exp":           jwt.NewNumericDate(now.Add(time.Hour)),
		"account_id":    tenant.AccountID,
		"engagement_id": tenant.EngagementID,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		h.t.Fatalf("sign token: %v", err)
	}
	return signed
}

// Do performs an authenticated request against the harness server.
func (h *TestHarness) Do(method, path string, tenant model.TenantContext, body any) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token(tenant))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DecodeJSON decodes a response body into out and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
}

// testdataDir locates the testdata directory next to this file.
func testdataDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate test source file")
	}
	return filepath.Join(filepath.Dir(file), "testdata")
}
