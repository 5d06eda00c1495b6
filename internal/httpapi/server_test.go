package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/storage"
	"github.com/MedSimWorks/attending-sim/server/internal/narrator"
	"github.com/MedSimWorks/attending-sim/server/internal/network"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
)

type testAPI struct {
	mux      *http.ServeMux
	sessions storage.SessionRepository
	actions  storage.ActionRepository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	log := logger.NewLogger()
	db, err := storage.InitSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("InitSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	library, err := scenario.LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded failed: %v", err)
	}

	sessions := storage.NewSQLiteSessionRepository(db)
	actions := storage.NewSQLiteActionRepository(db)
	pending := storage.NewSQLitePendingResultRepository(db)
	logs := storage.NewSQLiteEncounterLogRepository(db)

	eng := engine.New(actions, pending, log)
	provider := ai.NewAnthropicProvider("", ai.NewBudgetGate(5, 25))
	parser := narrator.NewParser(nil, log)
	narr := narrator.New(nil, log)
	ambient := narrator.NewAmbient(nil, log, rand.New(rand.NewSource(1)), false)
	hub := network.NewHub(log)

	srv := New(library, eng, sessions, actions, logs, parser, narr, ambient, provider, hub, log, 20)
	mux := http.NewServeMux()
	srv.Register(mux)

	return &testAPI{mux: mux, sessions: sessions, actions: actions}
}

func (a *testAPI) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, a *testAPI) string {
	t.Helper()
	rec := a.post(t, "/api/game/start", map[string]string{"scenario_id": "etoh-lgib-dka"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Start returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode start response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("Start returned empty session_id")
	}
	return resp.SessionID
}

func TestSignOutCommandCompletesAndLogsAction(t *testing.T) {
	api := newTestAPI(t)
	sessionID := startSession(t, api)

	rec := api.post(t, "/api/game/command", map[string]string{
		"session_id": sessionID,
		"input":      "sign out",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Command returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		GameOver bool `json:"game_over"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode command response: %v", err)
	}
	if !resp.GameOver {
		t.Error("Expected game_over true after signing out")
	}

	ctx := context.Background()
	sess, err := api.sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("Expected session status %q, got %q", session.StatusCompleted, sess.Status)
	}

	history, err := api.actions.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	found := false
	for _, entry := range history {
		if entry.Action.Type == session.ActionEndGame {
			found = true
		}
	}
	if !found {
		t.Error("Expected an end_game record in the action log")
	}
}

func TestLLMUsageEndpoint(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/llm/usage", nil)
	rec := httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Usage returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Available bool          `json:"available"`
		Provider  string        `json:"provider"`
		Usage     ai.UsageStats `json:"usage"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode usage response: %v", err)
	}
	if resp.Available {
		t.Error("Expected available false without an API key")
	}
	if resp.Provider != "Anthropic Claude" {
		t.Errorf("Expected provider %q, got %q", "Anthropic Claude", resp.Provider)
	}
	if resp.Usage.BudgetRemaining != 25 {
		t.Errorf("Expected budget_remaining 25, got %v", resp.Usage.BudgetRemaining)
	}
	if resp.Usage.TotalRequests != 0 {
		t.Errorf("Expected zero requests, got %d", resp.Usage.TotalRequests)
	}

	// The route is read-only.
	post := httptest.NewRequest(http.MethodPost, "/api/llm/usage", nil)
	postRec := httptest.NewRecorder()
	api.mux.ServeHTTP(postRec, post)
	if postRec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", postRec.Code)
	}
}
