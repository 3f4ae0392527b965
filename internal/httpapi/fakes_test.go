package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/erauner12/tablebridge/internal/auth"
	"github.com/erauner12/tablebridge/internal/changeset"
	"github.com/erauner12/tablebridge/internal/creds"
	"github.com/erauner12/tablebridge/internal/engine"
	"github.com/erauner12/tablebridge/internal/store"
	"github.com/erauner12/tablebridge/internal/syncx"
)

// In-memory fakes backing the handler tests. The auth path runs for
// real: requests authenticate with X-Debug-Sub through the dev-mode
// middleware, and memUsers resolves the subject.

const (
	testSub    = "test-user"
	testUserID = "u-1"
)

type memUsers struct {
	users map[string]*store.AppUser
	err   error
}

func (m *memUsers) Get(ctx context.Context, id string) (*store.AppUser, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

func (m *memUsers) ResolveSub(ctx context.Context, sub string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	for _, u := range m.users {
		if u.Sub == sub {
			return u.ID, nil
		}
	}
	u := &store.AppUser{ID: "id-" + sub, Sub: sub, Plan: "pro", SubscriptionStatus: "active"}
	m.users[u.ID] = u
	return u.ID, nil
}

type memConfigs struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*store.SyncConfig
	err  error
}

func newMemConfigs() *memConfigs {
	return &memConfigs{byID: make(map[uuid.UUID]*store.SyncConfig)}
}

func (m *memConfigs) Create(ctx context.Context, cfg *store.SyncConfig) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.ID = uuid.New()
	cfg.CreatedAt = testTime
	cfg.UpdatedAt = testTime
	cp := *cfg
	m.byID[cfg.ID] = &cp
	return nil
}

func (m *memConfigs) Get(ctx context.Context, userID string, id uuid.UUID) (*store.SyncConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.byID[id]
	if !ok || cfg.UserID != userID {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (m *memConfigs) List(ctx context.Context, userID string) ([]store.SyncConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SyncConfig
	for _, cfg := range m.byID {
		if cfg.UserID == userID {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (m *memConfigs) CountForUser(ctx context.Context, userID string) (int, error) {
	list, err := m.List(ctx, userID)
	return len(list), err
}

func (m *memConfigs) Update(ctx context.Context, cfg *store.SyncConfig) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[cfg.ID]
	if !ok || cur.UserID != cfg.UserID {
		return false, nil
	}
	cp := *cfg
	m.byID[cfg.ID] = &cp
	return true, nil
}

func (m *memConfigs) Delete(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.byID[id]
	if !ok || cfg.UserID != userID {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

type memLogs struct {
	logs []store.SyncLog
	next string
	err  error

	gotCursor syncx.Cursor
	gotLimit  int
}

func (m *memLogs) Recent(ctx context.Context, userID string, configID uuid.UUID, cursor syncx.Cursor, limit int) ([]store.SyncLog, string, error) {
	m.gotCursor = cursor
	m.gotLimit = limit
	return m.logs, m.next, m.err
}

type memUsage struct {
	created map[string]int
}

func newMemUsage() *memUsage {
	return &memUsage{created: make(map[string]int)}
}

func (m *memUsage) Get(ctx context.Context, userID, month string) (*store.UsageStats, error) {
	return &store.UsageStats{UserID: userID, Month: month}, nil
}

func (m *memUsage) IncrementConfigsCreated(ctx context.Context, userID, month string) error {
	m.created[userID]++
	return nil
}

type memCheckpoints struct {
	deleted []uuid.UUID
}

func (m *memCheckpoints) Delete(ctx context.Context, configID uuid.UUID) error {
	m.deleted = append(m.deleted, configID)
	return nil
}

type memConnections struct {
	stored   map[string]creds.TokenSet
	statuses map[string]*creds.Status
	report   *creds.Report
	cleared  int
	err      error
}

func newMemConnections() *memConnections {
	return &memConnections{
		stored:   make(map[string]creds.TokenSet),
		statuses: make(map[string]*creds.Status),
	}
}

func (m *memConnections) StoreTokens(ctx context.Context, userID, service string, ts creds.TokenSet) error {
	if m.err != nil {
		return m.err
	}
	m.stored[service] = ts
	m.statuses[service] = &creds.Status{Service: service, Connected: true, AccountEmail: ts.AccountEmail}
	return nil
}

func (m *memConnections) ConnectionStatus(ctx context.Context, userID, service string) (*creds.Status, error) {
	if m.err != nil {
		return nil, m.err
	}
	if st, ok := m.statuses[service]; ok {
		return st, nil
	}
	return &creds.Status{Service: service}, nil
}

func (m *memConnections) ClearReauth(ctx context.Context, userID string) error {
	if m.err != nil {
		return m.err
	}
	m.cleared++
	return nil
}

func (m *memConnections) Diagnostics(ctx context.Context, userID string) (*creds.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.report != nil {
		return m.report, nil
	}
	return &creds.Report{Advice: []string{}}, nil
}

type stubRunner struct {
	res *engine.RunResult
	err error

	gotConfig  uuid.UUID
	gotTrigger store.Trigger
	gotOpts    engine.RunOptions
	calls      int
}

func (r *stubRunner) Run(ctx context.Context, cfg *store.SyncConfig, trigger store.Trigger, opts engine.RunOptions) (*engine.RunResult, error) {
	r.calls++
	r.gotConfig = cfg.ID
	r.gotTrigger = trigger
	r.gotOpts = opts
	if r.err != nil {
		return nil, r.err
	}
	if r.res != nil {
		return r.res, nil
	}
	return &engine.RunResult{
		Direction:   cfg.Direction,
		Status:      store.StatusSuccess,
		StartedAt:   testTime,
		CompletedAt: testTime.Add(2 * time.Second),
	}, nil
}

// testEnv bundles the server and its fakes
type testEnv struct {
	srv     *Server
	router  http.Handler
	users   *memUsers
	configs *memConfigs
	logs    *memLogs
	usage   *memUsage
	chkpts  *memCheckpoints
	conns   *memConnections
	runner  *stubRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		users: &memUsers{users: map[string]*store.AppUser{
			testUserID: {ID: testUserID, Sub: testSub, Plan: "pro", SubscriptionStatus: "active"},
		}},
		configs: newMemConfigs(),
		logs:    &memLogs{},
		usage:   newMemUsage(),
		chkpts:  &memCheckpoints{},
		conns:   newMemConnections(),
		runner:  &stubRunner{},
	}
	env.srv = &Server{
		Users:       env.users,
		Configs:     env.configs,
		Logs:        env.logs,
		Usage:       env.usage,
		Checkpoints: env.chkpts,
		Creds:       env.conns,
		Runner:      env.runner,
		IDColumn:    26,
		Clock:       clockwork.NewFakeClockAt(testTime),
	}
	env.router = env.srv.Routes(auth.JWTCfg{HS256Secret: "test", DevMode: true})
	return env
}

// seedConfig inserts a config owned by the test user
func (env *testEnv) seedConfig(t *testing.T, direction store.Direction) *store.SyncConfig {
	t.Helper()
	cfg := &store.SyncConfig{
		UserID:          testUserID,
		AirtableBaseID:  "appBase1",
		AirtableTableID: "tblTasks",
		SpreadsheetID:   "spreadsheet-1",
		SheetName:       "Tasks",
		FieldMapping:    map[string]int{"fldName": 0, "fldScore": 1},
		Direction:       direction,
		ConflictPolicy:  changeset.StrategyAirtableWins,
		Active:          true,
	}
	if err := env.configs.Create(context.Background(), cfg); err != nil {
		t.Fatalf("seeding config: %v", err)
	}
	return cfg
}

// doRequest makes an authenticated request against the test router
func (env *testEnv) doRequest(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Debug-Sub", testSub)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals a JSON response body into v
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body %q: %v", w.Body.String(), err)
	}
}

func containsText(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

var testTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
