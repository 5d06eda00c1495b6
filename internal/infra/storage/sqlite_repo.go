package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/scenario"
	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// sessionState is the JSON blob holding the clinical portion of a session
// row. Clock bookkeeping lives in dedicated columns so it can be queried.
type sessionState struct {
	Vitals           scenario.Vitals     `json:"vitals"`
	ConditionStates  map[string]string   `json:"condition_states"`
	StateEnteredAt   map[string]int      `json:"state_entered_at"`
	ActiveTreatments []session.Treatment `json:"active_treatments"`
	FiredEvents      []string            `json:"fired_events"`
	RevealedHistory  []string            `json:"revealed_history"`
	LastAmbientSim   int                 `json:"last_ambient_sim"`
}

// SQLiteSessionRepository implements SessionRepository for SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, s *session.Session) error {
	stateJSON, err := marshalState(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (id, scenario_id, status, start_real, last_tick_real, sim_time, time_scale, state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.ScenarioID, string(s.Status), s.StartReal, s.LastTickReal,
		s.SimTime, s.TimeScale, stateJSON, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT id, scenario_id, status, start_real, last_tick_real, sim_time, time_scale, state_json, created_at FROM sessions WHERE id = ?`

	var s session.Session
	var status, stateJSON string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ScenarioID, &status, &s.StartReal, &s.LastTickReal,
		&s.SimTime, &s.TimeScale, &stateJSON, &s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	s.Status = session.Status(status)

	var state sessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	s.Vitals = state.Vitals
	s.ConditionStates = state.ConditionStates
	s.StateEnteredAt = state.StateEnteredAt
	s.ActiveTreatments = state.ActiveTreatments
	s.FiredEvents = state.FiredEvents
	s.RevealedHistory = state.RevealedHistory
	s.LastAmbientSim = state.LastAmbientSim

	// Older rows may predate some fields; keep maps usable.
	if s.ConditionStates == nil {
		s.ConditionStates = map[string]string{}
	}
	if s.StateEnteredAt == nil {
		s.StateEnteredAt = map[string]int{}
	}

	return &s, nil
}

func (r *SQLiteSessionRepository) Save(ctx context.Context, s *session.Session) error {
	stateJSON, err := marshalState(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET status = ?, last_tick_real = ?, sim_time = ?, state_json = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(s.Status), s.LastTickReal, s.SimTime, stateJSON, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", s.ID)
	}
	return nil
}

func marshalState(s *session.Session) (string, error) {
	b, err := json.Marshal(sessionState{
		Vitals:           s.Vitals,
		ConditionStates:  s.ConditionStates,
		StateEnteredAt:   s.StateEnteredAt,
		ActiveTreatments: s.ActiveTreatments,
		FiredEvents:      s.FiredEvents,
		RevealedHistory:  s.RevealedHistory,
		LastAmbientSim:   s.LastAmbientSim,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session state: %w", err)
	}
	return string(b), nil
}

// ---------------------------------------------------------
// SQLiteActionRepository
// ---------------------------------------------------------

type SQLiteActionRepository struct {
	db *sql.DB
}

func NewSQLiteActionRepository(db *sql.DB) *SQLiteActionRepository {
	return &SQLiteActionRepository{db: db}
}

func (r *SQLiteActionRepository) Append(ctx context.Context, rec session.ActionRecord) error {
	detailsJSON, err := json.Marshal(rec.Action.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal action details: %w", err)
	}

	query := `
		INSERT INTO actions (session_id, sim_time, action_type, action_key, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.SessionID, rec.SimTime, string(rec.Action.Type), rec.Action.Key,
		string(detailsJSON), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

func (r *SQLiteActionRepository) ListBySession(ctx context.Context, sessionID string) ([]session.ActionRecord, error) {
	query := `SELECT id, session_id, sim_time, action_type, action_key, details_json, created_at FROM actions WHERE session_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []session.ActionRecord
	for rows.Next() {
		var rec session.ActionRecord
		var actionType, detailsJSON string
		err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.SimTime, &actionType, &rec.Action.Key,
			&detailsJSON, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Action.Type = session.ActionType(actionType)
		if err := json.Unmarshal([]byte(detailsJSON), &rec.Action.Details); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ---------------------------------------------------------
// SQLitePendingResultRepository
// ---------------------------------------------------------

type SQLitePendingResultRepository struct {
	db *sql.DB
}

func NewSQLitePendingResultRepository(db *sql.DB) *SQLitePendingResultRepository {
	return &SQLitePendingResultRepository{db: db}
}

func (r *SQLitePendingResultRepository) Schedule(ctx context.Context, pr session.PendingResult) error {
	dataJSON, err := json.Marshal(pr.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal result data: %w", err)
	}

	query := `
		INSERT INTO pending_results (session_id, result_type, result_key, data_json, ordered_at_sim, available_at_sim, delivered)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	_, err = r.db.ExecContext(ctx, query,
		pr.SessionID, string(pr.Type), pr.Key, string(dataJSON),
		pr.OrderedAtSim, pr.AvailableAtSim,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule result: %w", err)
	}
	return nil
}

func (r *SQLitePendingResultRepository) DueBy(ctx context.Context, sessionID string, simTime int) ([]session.PendingResult, error) {
	query := `SELECT id, session_id, result_type, result_key, data_json, ordered_at_sim, available_at_sim, delivered FROM pending_results WHERE session_id = ? AND delivered = 0 AND available_at_sim <= ? ORDER BY available_at_sim ASC, id ASC`
	return r.getMany(ctx, query, sessionID, simTime)
}

func (r *SQLitePendingResultRepository) ListBySession(ctx context.Context, sessionID string) ([]session.PendingResult, error) {
	query := `SELECT id, session_id, result_type, result_key, data_json, ordered_at_sim, available_at_sim, delivered FROM pending_results WHERE session_id = ? ORDER BY id ASC`
	return r.getMany(ctx, query, sessionID)
}

func (r *SQLitePendingResultRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]session.PendingResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []session.PendingResult
	for rows.Next() {
		var pr session.PendingResult
		var resultType, dataJSON string
		err := rows.Scan(
			&pr.ID, &pr.SessionID, &resultType, &pr.Key, &dataJSON,
			&pr.OrderedAtSim, &pr.AvailableAtSim, &pr.Delivered,
		)
		if err != nil {
			return nil, err
		}
		pr.Type = session.ResultType(resultType)
		if err := json.Unmarshal([]byte(dataJSON), &pr.Data); err != nil {
			return nil, err
		}
		results = append(results, pr)
	}
	return results, rows.Err()
}

// MarkDelivered flips a pending result to delivered. The WHERE clause on
// delivered makes concurrent sweeps race-safe: exactly one caller sees true.
func (r *SQLitePendingResultRepository) MarkDelivered(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE pending_results SET delivered = 1 WHERE id = ? AND delivered = 0`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------------------------------------------------
// SQLiteEncounterLogRepository
// ---------------------------------------------------------

type SQLiteEncounterLogRepository struct {
	db *sql.DB
}

func NewSQLiteEncounterLogRepository(db *sql.DB) *SQLiteEncounterLogRepository {
	return &SQLiteEncounterLogRepository{db: db}
}

func (r *SQLiteEncounterLogRepository) Append(ctx context.Context, entry session.LogEntry) error {
	query := `
		INSERT INTO encounter_log (session_id, sim_time, role, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID, entry.SimTime, string(entry.Role), entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

func (r *SQLiteEncounterLogRepository) ListBySession(ctx context.Context, sessionID string) ([]session.LogEntry, error) {
	query := `SELECT session_id, sim_time, role, message, created_at FROM encounter_log WHERE session_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []session.LogEntry
	for rows.Next() {
		var e session.LogEntry
		var role string
		if err := rows.Scan(&e.SessionID, &e.SimTime, &role, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = session.LogRole(role)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
