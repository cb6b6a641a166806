package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// TaskRecord captures one task dispatch received by the mock agent.
type TaskRecord struct {
	Description  string `json:"description"`
	ExpectedKey  string `json:"expected_key"`
	AccountID    string `json:"account_id"`
	EngagementID string `json:"engagement_id"`
}

// AgentResponse scripts one response from the mock agent.
type AgentResponse struct {
	Status int
	Body   string
}

// MockAgent is an httptest server standing in for the external agent
// capability. Responses can be scripted per expected key; unscripted keys
// get a well-formed JSON result echoing the key.
type MockAgent struct {
	server *httptest.Server

	mu        sync.Mutex
	records   []TaskRecord
	scripts   map[string][]AgentResponse
	callCount map[string]int
}

// NewMockAgent starts a mock agent capability server.
func NewMockAgent(t *testing.T) *MockAgent {
	t.Helper()
	m := &MockAgent{
		scripts:   make(map[string][]AgentResponse),
		callCount: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mock agent.
func (m *MockAgent) URL() string { return m.server.URL }

// Script queues responses for tasks with the given expected key. Responses
// are consumed in order; once exhausted the default response applies.
func (m *MockAgent) Script(expectedKey string, responses ...AgentResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[expectedKey] = append(m.scripts[expectedKey], responses...)
}

// Records returns all task dispatches received so far.
func (m *MockAgent) Records() []TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Calls returns how many dispatches arrived for the given expected key.
func (m *MockAgent) Calls(expectedKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[expectedKey]
}

func (m *MockAgent) handle(w http.ResponseWriter, r *http.Request) {
	var rec TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.callCount[rec.ExpectedKey]++
	var resp *AgentResponse
	if queue := m.scripts[rec.ExpectedKey]; len(queue) > 0 {
		resp = &queue[0]
		m.scripts[rec.ExpectedKey] = queue[1:]
	}
	m.mu.Unlock()

	if resp != nil {
		w.WriteHeader(resp.Status)
		w.Write([]byte(resp.Body))
		return
	}

	// Default: free text around a single JSON block, the way a real agent
	// tends to answer.
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`Here is the result you asked for:` + "\n" +
		`{"` + rec.ExpectedKey + `": ["item-1", "item-2"]}` + "\n" +
		`Let me know if you need anything else.`))
}
