// Package recorder keeps a SQLite log of tracking sessions, their steps and
// the positions they produced, so walks can be reviewed afterwards.
package recorder

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/session"
	"github.com/relabs-tech/indoor_tracker/internal/steps"
)

// schema.sql creates the session, step and position tables.
//
//go:embed schema.sql
var schemaSQL string

// Recorder writes session data to SQLite.
type Recorder struct {
	*sql.DB
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID        string     `json:"id"`
	Platform  string     `json:"platform"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	StepCount int        `json:"step_count"`
}

// PathPoint is one recorded position.
type PathPoint struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Heading    float64   `json:"heading"`
	Confidence string    `json:"confidence"`
	At         time.Time `json:"at"`
}

func toEpoch(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromEpoch(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9)).UTC()
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply recorder schema: %w", err)
	}

	log.Printf("recorder: initialized database schema at %s", path)
	return &Recorder{db}, nil
}

// StartSession inserts a session row.
func (r *Recorder) StartSession(id, platform string, at time.Time) error {
	_, err := r.Exec(`INSERT INTO tracking_sessions (id, platform, started_at) VALUES (?, ?, ?)`,
		id, platform, toEpoch(at))
	if err != nil {
		return fmt.Errorf("failed to start session %s: %w", id, err)
	}
	return nil
}

// EndSession stamps the stop time and the final step count.
func (r *Recorder) EndSession(id string, at time.Time) error {
	query := `
		UPDATE tracking_sessions
		SET
			stopped_at = ?,
			step_count = (SELECT COUNT(*) FROM steps WHERE session_id = ?)
		WHERE id = ?
	`
	if _, err := r.Exec(query, toEpoch(at), id, id); err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// RecordStep stores one step event.
func (r *Recorder) RecordStep(sessionID string, ev steps.Event) error {
	_, err := r.Exec(`
		INSERT INTO steps (session_id, step_index, timestamp, peak_magnitude, calibrating)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, ev.Index, toEpoch(ev.Timestamp), ev.PeakMagnitude, ev.Calibrating)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	return nil
}

// RecordPosition stores one position update.
func (r *Recorder) RecordPosition(sessionID string, p position.Position, at time.Time) error {
	_, err := r.Exec(`
		INSERT INTO positions (session_id, x, y, heading, confidence, drift_meters, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, p.X, p.Y, p.Heading, string(p.Confidence), p.DriftMeters, toEpoch(at))
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions first.
func (r *Recorder) Sessions(limit int) ([]SessionSummary, error) {
	rows, err := r.Query(`
		SELECT id, platform, started_at, stopped_at, step_count
		FROM tracking_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s       SessionSummary
			started float64
			stopped sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.Platform, &started, &stopped, &s.StepCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = fromEpoch(started)
		if stopped.Valid {
			t := fromEpoch(stopped.Float64)
			s.StoppedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Path returns the recorded positions of a session in order.
func (r *Recorder) Path(sessionID string) ([]PathPoint, error) {
	rows, err := r.Query(`
		SELECT x, y, heading, confidence, recorded_at
		FROM positions
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query path: %w", err)
	}
	defer rows.Close()

	var out []PathPoint
	for rows.Next() {
		var (
			p  PathPoint
			at float64
		)
		if err := rows.Scan(&p.X, &p.Y, &p.Heading, &p.Confidence, &at); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.At = fromEpoch(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Attach records everything a session publishes until the returned
// function is called. Write failures are logged and never stop tracking.
func (r *Recorder) Attach(s *session.Session, platform string) (detach func()) {
	now := time.Now
	unsubs := []func(){
		s.Lifecycle().Subscribe(func(ev session.Lifecycle) {
			var err error
			if ev.Active {
				err = r.StartSession(ev.ID, platform, ev.At)
			} else {
				err = r.EndSession(ev.ID, ev.At)
			}
			if err != nil {
				log.Printf("recorder: %v", err)
			}
		}),
		s.Steps().Subscribe(func(ev steps.Event) {
			if err := r.RecordStep(s.ID(), ev); err != nil {
				log.Printf("recorder: %v", err)
			}
		}),
		s.Positions().Subscribe(func(p position.Position) {
			id := s.ID()
			if id == "" {
				return
			}
			if err := r.RecordPosition(id, p, now()); err != nil {
				log.Printf("recorder: %v", err)
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
