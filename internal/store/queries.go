package store

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// InsertEvent appends an event to the journal and returns its ID. A zero
// Timestamp is replaced with the current time.
func (s *Store) InsertEvent(event *Event) (int64, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (timestamp, action, solver, version, detail, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		event.Timestamp.UTC().Format(timeLayout),
		string(event.Action),
		event.Solver,
		event.Version,
		event.Detail,
		event.SizeBytes,
	)
	if err != nil {
		return 0, wrapErr(err, "failed to insert %s event", event.Action)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return id, nil
}

// ListEvents returns the most recent events, newest first. A limit of zero
// or less returns all events.
func (s *Store) ListEvents(limit int) ([]*Event, error) {
	query := `
		SELECT id, timestamp, action, solver, version, detail, size_bytes
		FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, wrapErr(err, "failed to list events")
	}
	return scanEvents(rows)
}

// ListSolverEvents returns the events of one solver, newest first.
func (s *Store) ListSolverEvents(solver string, limit int) ([]*Event, error) {
	query := `
		SELECT id, timestamp, action, solver, version, detail, size_bytes
		FROM events
		WHERE solver = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, solver, limit)
	if err != nil {
		return nil, wrapErr(err, "failed to list events for %s", solver)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var event Event
		var timestamp, action string

		err := rows.Scan(
			&event.ID,
			&timestamp,
			&action,
			&event.Solver,
			&event.Version,
			&event.Detail,
			&event.SizeBytes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		event.Action = Action(action)
		event.Timestamp, err = time.Parse(timeLayout, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for event %d: %w", event.ID, err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// GetLastEvent returns the most recent event with the given action for a
// solver. Returns nil if there is none.
func (s *Store) GetLastEvent(action Action, solver string) (*Event, error) {
	query := `
		SELECT id, timestamp, action, solver, version, detail, size_bytes
		FROM events
		WHERE action = ? AND solver = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	rows, err := s.db.Query(query, string(action), solver)
	if err != nil {
		return nil, wrapErr(err, "failed to get last %s event for %s", action, solver)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// GetEventCount returns the total number of journaled events.
func (s *Store) GetEventCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		return 0, wrapErr(err, "failed to count events")
	}
	return count, nil
}

// GetDownloadedBytes returns the sum of bytes downloaded by installs.
func (s *Store) GetDownloadedBytes() (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow("SELECT SUM(size_bytes) FROM events WHERE action = ?", string(ActionInstall)).Scan(&total)
	if err != nil {
		return 0, wrapErr(err, "failed to sum downloads")
	}
	return total.Int64, nil
}
