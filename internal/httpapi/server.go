// Package httpapi exposes the simulation over HTTP. Every game route
// follows the same shape: lock the session, load it, advance the clock,
// apply the request, save, respond. The handlers hold no game state of
// their own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
	"github.com/MedSimWorks/attending-sim/server/internal/engine"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/ai"
	"github.com/MedSimWorks/attending-sim/server/internal/infra/storage"
	"github.com/MedSimWorks/attending-sim/server/internal/narrator"
	"github.com/MedSimWorks/attending-sim/server/internal/network"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

// Server wires the HTTP routes to the engine and stores.
type Server struct {
	library   *scenario.Library
	engine    *engine.Engine
	sessions  storage.SessionRepository
	actions   storage.ActionRepository
	logs      storage.EncounterLogRepository
	parser    *narrator.Parser
	narrator  *narrator.Narrator
	ambient   *narrator.Ambient
	provider  ai.LLMProvider
	hub       *network.Hub
	logger    *logger.Logger
	timeScale int
}

// New creates the API server.
func New(
	library *scenario.Library,
	eng *engine.Engine,
	sessions storage.SessionRepository,
	actions storage.ActionRepository,
	logs storage.EncounterLogRepository,
	parser *narrator.Parser,
	narr *narrator.Narrator,
	ambient *narrator.Ambient,
	provider ai.LLMProvider,
	hub *network.Hub,
	log *logger.Logger,
	timeScale int,
) *Server {
	return &Server{
		library:   library,
		engine:    eng,
		sessions:  sessions,
		actions:   actions,
		logs:      logs,
		parser:    parser,
		narrator:  narr,
		ambient:   ambient,
		provider:  provider,
		hub:       hub,
		logger:    log,
		timeScale: timeScale,
	}
}

// Register attaches all routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/scenarios", s.handleScenarios)
	mux.HandleFunc("/api/game/start", s.handleStart)
	mux.HandleFunc("/api/game/command", s.handleCommand)
	mux.HandleFunc("/api/game/tick", s.handleTick)
	mux.HandleFunc("/api/game/end", s.handleEnd)
	mux.HandleFunc("/api/llm/usage", s.handleLLMUsage)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		network.ServeWS(s.hub, w, r)
	})
}

type roleMessage struct {
	Role    session.LogRole `json:"role"`
	Message string          `json:"message"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": s.library.List()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	sc := s.library.Get(req.ScenarioID)
	if sc == nil {
		http.Error(w, "Unknown scenario: "+req.ScenarioID, http.StatusBadRequest)
		return
	}

	now := time.Now()
	sess := session.New(uuid.NewString(), sc, s.timeScale, now)

	// game_start events fire exactly once, here.
	var opening []engine.FiredEvent
	for i := range sc.Events {
		if sc.Events[i].Trigger.Kind == scenario.EventTriggerGameStart {
			opening = append(opening, engine.FiredEvent{Event: &sc.Events[i], VitalsChange: sc.Events[i].VitalsChange})
		}
	}
	engine.ApplyFiredEvents(sess, opening)

	narrative := s.narrator.OpeningNarration(r.Context(), sc, sess, opening)

	if err := s.saveSessionTimed(r, sess, true); err != nil {
		s.logger.Error("Failed to create session: " + err.Error())
		http.Error(w, "Failed to start game", http.StatusInternalServerError)
		return
	}
	s.writeLog(r, sess, []roleMessage{{Role: session.RoleNarrator, Message: narrative}})

	metrics.Get().RecordSessionStart()
	s.logger.Event("SESSION_START", sess.ID, sc.ID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"narrative":  narrative,
		"vitals":     s.engine.DisplayVitals(sess),
		"sim_time":   sess.SimTime,
		"time_scale": sess.TimeScale,
		"patient": map[string]interface{}{
			"name":            sc.Patient.Name,
			"age":             sc.Patient.Age,
			"sex":             sc.Patient.Sex,
			"chief_complaint": sc.Patient.ChiefComplaint,
		},
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
		Input     string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.Input == "" {
		http.Error(w, "session_id and input are required", http.StatusBadRequest)
		return
	}

	unlock := s.engine.LockSession(req.SessionID)
	defer unlock()

	sc, sess, ok := s.loadActive(w, r, req.SessionID)
	if !ok {
		return
	}

	now := time.Now()
	pass, err := s.engine.Advance(r.Context(), sc, sess, now)
	if err != nil {
		s.logger.Error("Advance failed: " + err.Error())
		http.Error(w, "Failed to process command", http.StatusInternalServerError)
		return
	}

	engine.RevealHistoryFromInput(sc, sess, req.Input)

	parsed := s.parser.Parse(r.Context(), req.Input, sc)

	all := []roleMessage{{Role: session.RoleUser, Message: req.Input}}
	for _, msg := range pass.Messages {
		all = append(all, roleMessage{Role: session.RoleResult, Message: msg})
	}

	for _, act := range parsed.Actions {
		// Narration-only actions are voiced below, not executed.
		if act.Type == session.ActionAskPatient || act.Type == session.ActionPhysicalExam {
			continue
		}

		if act.Type == session.ActionEndGame {
			// The executor owns the status flip and the action-log entry;
			// the handler only short-circuits the rest of the turn.
			msgs, err := s.engine.ExecuteAction(r.Context(), act, pass)
			if err != nil {
				s.logger.Error("Action execution failed: " + err.Error())
				http.Error(w, "Failed to process command", http.StatusInternalServerError)
				return
			}
			for _, msg := range msgs {
				all = append(all, roleMessage{Role: session.RoleNarrator, Message: msg})
			}
			sess.LastTickReal = now
			if err := s.saveSessionTimed(r, sess, false); err != nil {
				s.logger.Error("Failed to save session: " + err.Error())
			}
			s.writeLog(r, sess, all)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"narrative": joinNonUser(all),
				"vitals":    sess.Vitals,
				"sim_time":  sess.SimTime,
				"alerts":    []string{},
				"game_over": true,
			})
			return
		}

		msgs, err := s.engine.ExecuteAction(r.Context(), act, pass)
		if err != nil {
			s.logger.Error("Action execution failed: " + err.Error())
			http.Error(w, "Failed to process command", http.StatusInternalServerError)
			return
		}
		for _, msg := range msgs {
			all = append(all, roleMessage{Role: session.RoleNurse, Message: msg})
		}
	}

	if parsed.NeedsNarration || len(pass.FiredEvents) > 0 {
		inputType := narrator.InputAmbiguous
		switch {
		case parsed.InputType == narrator.InputPatientQuestion:
			inputType = narrator.InputPatientQuestion
		case parsed.InputType == narrator.InputPhysicalExam:
			inputType = narrator.InputPhysicalExam
		}

		gm := s.narrator.Narrate(r.Context(), sc, sess, req.Input, inputType, pass.FiredEvents, pass.Delivered)
		for _, id := range gm.RevealedHistory {
			sess.Reveal(id)
		}

		role := session.RoleNarrator
		switch inputType {
		case narrator.InputPatientQuestion:
			role = session.RolePatient
		case narrator.InputEventNarration:
			role = session.RoleAlert
		}
		all = append(all, roleMessage{Role: role, Message: gm.Narrative})
	}

	sess.LastTickReal = now
	if err := s.saveSessionTimed(r, sess, false); err != nil {
		s.logger.Error("Failed to save session: " + err.Error())
		http.Error(w, "Failed to process command", http.StatusInternalServerError)
		return
	}
	s.writeLog(r, sess, all)
	s.publishState(sess, pass.Alerts)

	display := s.engine.DisplayVitals(sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"narrative":        joinNonUser(all),
		"vitals":           display,
		"formatted_vitals": display.Format(),
		"sim_time":         sess.SimTime,
		"sim_clock":        engine.FormatSimTime(sess.SimTime),
		"alerts":           alertsOrEmpty(pass.Alerts),
		"game_over":        false,
	})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	unlock := s.engine.LockSession(req.SessionID)
	defer unlock()

	sc, sess, ok := s.loadActive(w, r, req.SessionID)
	if !ok {
		return
	}

	now := time.Now()
	lastTick := sess.LastTickReal
	pass, err := s.engine.Advance(r.Context(), sc, sess, now)
	if err != nil {
		s.logger.Error("Advance failed: " + err.Error())
		http.Error(w, "Failed to process tick", http.StatusInternalServerError)
		return
	}

	var all []roleMessage
	for _, msg := range pass.Messages {
		all = append(all, roleMessage{Role: session.RoleResult, Message: msg})
	}

	if len(pass.FiredEvents) > 0 {
		gm := s.narrator.Narrate(r.Context(), sc, sess, "", narrator.InputEventNarration, pass.FiredEvents, pass.Delivered)
		all = append(all, roleMessage{Role: session.RoleAlert, Message: gm.Narrative})
	}

	// Ambient atmosphere fills quiet ticks.
	hasEvents := len(pass.FiredEvents) > 0
	hasResults := len(pass.Delivered) > 0
	sessForGate := *sess
	sessForGate.LastTickReal = lastTick
	if s.ambient.ShouldGenerate(&sessForGate, now, hasEvents, hasResults) {
		category := s.ambient.PickCategory()
		if msg := s.ambient.Generate(r.Context(), sc, sess, category, s.recentAmbient(r, sess.ID)); msg != nil {
			sess.LastAmbientSim = sess.SimTime
			all = append(all, roleMessage{Role: msg.Role, Message: msg.Message})
		}
	}

	sess.LastTickReal = now
	if err := s.saveSessionTimed(r, sess, false); err != nil {
		s.logger.Error("Failed to save session: " + err.Error())
		http.Error(w, "Failed to process tick", http.StatusInternalServerError)
		return
	}
	if len(all) > 0 {
		s.writeLog(r, sess, all)
	}
	s.publishState(sess, pass.Alerts)

	display := s.engine.DisplayVitals(sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"narrative":        joinNonUser(all),
		"vitals":           display,
		"formatted_vitals": display.Format(),
		"sim_time":         sess.SimTime,
		"sim_clock":        engine.FormatSimTime(sess.SimTime),
		"alerts":           alertsOrEmpty(pass.Alerts),
		"capped_by_idle":   pass.CappedByIdle,
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	unlock := s.engine.LockSession(req.SessionID)
	defer unlock()

	sess, err := s.sessions.Get(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("Failed to load session: " + err.Error())
		http.Error(w, "Failed to end game", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	sc := s.library.Get(sess.ScenarioID)
	if sc == nil {
		http.Error(w, "Scenario not found", http.StatusInternalServerError)
		return
	}

	sess.Status = session.StatusCompleted
	if err := s.saveSessionTimed(r, sess, false); err != nil {
		s.logger.Error("Failed to save session: " + err.Error())
		http.Error(w, "Failed to end game", http.StatusInternalServerError)
		return
	}

	actions, err := s.actions.ListBySession(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("Failed to load actions: " + err.Error())
		http.Error(w, "Failed to end game", http.StatusInternalServerError)
		return
	}

	score := s.engine.Score(sc, sess, actions)
	debrief := s.narrator.Debrief(r.Context(), sc, sess, score)
	s.writeLog(r, sess, []roleMessage{{Role: session.RoleNarrator, Message: debrief}})

	metrics.Get().RecordSessionEnd()
	s.logger.Event("SESSION_END", sess.ID, sc.ID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":      score.TotalScore,
		"max_score":  score.MaxScore,
		"percentage": score.Percentage,
		"conditions": score.Conditions,
		"history":    score.History,
		"debrief":    debrief,
	})
}

// handleLLMUsage reports provider spend for budget monitoring.
func (s *Server) handleLLMUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.provider == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": s.provider.IsAvailable(),
		"provider":  s.provider.Name(),
		"usage":     s.provider.GetUsageStats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadActive fetches an active session and its scenario, writing the error
// response itself when either is missing.
func (s *Server) loadActive(w http.ResponseWriter, r *http.Request, sessionID string) (*scenario.Scenario, *session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("Failed to load session: " + err.Error())
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return nil, nil, false
	}
	if sess == nil || sess.Status != session.StatusActive {
		http.Error(w, "Session not found or not active", http.StatusNotFound)
		return nil, nil, false
	}

	sc := s.library.Get(sess.ScenarioID)
	if sc == nil {
		http.Error(w, "Scenario not found", http.StatusInternalServerError)
		return nil, nil, false
	}
	return sc, sess, true
}

// saveSessionTimed persists the session and records the write latency.
func (s *Server) saveSessionTimed(r *http.Request, sess *session.Session, create bool) error {
	start := time.Now()
	var err error
	if create {
		err = s.sessions.Create(r.Context(), sess)
	} else {
		err = s.sessions.Save(r.Context(), sess)
	}
	metrics.Get().RecordStoreWrite(time.Since(start), err)
	return err
}

func (s *Server) writeLog(r *http.Request, sess *session.Session, messages []roleMessage) {
	now := time.Now()
	for _, m := range messages {
		entry := session.LogEntry{
			SessionID: sess.ID,
			SimTime:   sess.SimTime,
			Role:      m.Role,
			Message:   m.Message,
			CreatedAt: now,
		}
		if err := s.logs.Append(r.Context(), entry); err != nil {
			s.logger.Error("Failed to write log entry: " + err.Error())
		}
	}
}

// recentAmbient pulls the last few non-clinical lines for the ambient
// generator's repetition guard.
func (s *Server) recentAmbient(r *http.Request, sessionID string) []string {
	entries, err := s.logs.ListBySession(r.Context(), sessionID)
	if err != nil {
		return nil
	}
	var recent []string
	for i := len(entries) - 1; i >= 0 && len(recent) < 5; i-- {
		switch entries[i].Role {
		case session.RolePatient, session.RoleNurse, session.RoleNarrator:
			recent = append(recent, entries[i].Message)
		}
	}
	return recent
}

// publishState pushes the noised vitals and any alerts to subscribed
// monitors.
func (s *Server) publishState(sess *session.Session, alerts []string) {
	display := s.engine.DisplayVitals(sess)
	s.hub.Publish(network.MonitorUpdate{
		Type:      "vitals",
		SessionID: sess.ID,
		SimTime:   sess.SimTime,
		Payload:   map[string]interface{}{"vitals": display, "formatted": display.Format()},
	})
	for _, alert := range alerts {
		s.hub.Publish(network.MonitorUpdate{
			Type:      "alert",
			SessionID: sess.ID,
			SimTime:   sess.SimTime,
			Payload:   alert,
		})
	}
}

func joinNonUser(messages []roleMessage) string {
	var out string
	for _, m := range messages {
		if m.Role == session.RoleUser {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Message
	}
	return out
}

func alertsOrEmpty(alerts []string) []string {
	if alerts == nil {
		return []string{}
	}
	return alerts
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
