package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"appmerge/internal/types"
)

// Session is one analysis session row.
type Session struct {
	ID            int64
	ReferenceID   string
	Status        types.SessionStatus
	ReviewedCount int
	SkippedCount  int
	ErrorLog      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary is the reporting view of one session.
type Summary struct {
	ReferenceID      string
	Status           types.SessionStatus
	TotalChanges     int
	ReviewedCount    int
	SkippedCount     int
	ByClassification map[types.Classification]int
	ByObjectType     map[types.ObjectType]int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateSession allocates the next MRG reference id and inserts a session
// in status processing. The allocation reads the current maximum and
// inserts in one transaction under the store write lock, so concurrent
// callers get distinct sequential ids.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// Ids before the MRG_ scheme are ignored, which restarts the sequence
	// at 001 on databases migrated from an earlier format.
	var last int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(SUBSTR(reference_id, 5) AS INTEGER)), 0)
		 FROM sessions WHERE reference_id LIKE 'MRG_%'`,
	).Scan(&last)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to read reference sequence")
	}

	ref := fmt.Sprintf("MRG_%03d", last+1)
	res, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (reference_id, status) VALUES (?, ?)",
		ref, string(types.SessionProcessing),
	)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to insert session %s", ref)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to read session id")
	}
	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to commit session %s", ref)
	}

	s.logger.Info("Session created",
		zap.String("reference_id", ref),
		zap.Int64("session_id", id))

	// Still holding the write lock, so read directly.
	return s.scanSession(s.db.QueryRowContext(ctx,
		sessionSelect+" WHERE id = ?", id))
}

// SessionByID fetches one session by numeric id.
func (s *Store) SessionByID(ctx context.Context, id int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSession(s.db.QueryRowContext(ctx,
		sessionSelect+" WHERE id = ?", id))
}

// SessionByReference fetches one session by its MRG reference id.
func (s *Store) SessionByReference(ctx context.Context, ref string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSession(s.db.QueryRowContext(ctx,
		sessionSelect+" WHERE reference_id = ?", ref))
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		sessionSelect+" ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// MarkFailed transitions a session to failed and records the error log.
// Failed sessions are never mutated again.
func (s *Store) MarkFailed(ctx context.Context, sessionID int64, errLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_log = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status != ?`,
		string(types.SessionFailed), errLog, sessionID, string(types.SessionFailed),
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to mark session %d failed", sessionID)
	}

	s.logger.Warn("Session marked failed",
		zap.Int64("session_id", sessionID),
		zap.String("error", errLog))
	return nil
}

// CompleteSession transitions the session to completed. Every queued
// change must hold a terminal review status; otherwise a PendingChanges
// error is returned and the session is untouched.
func (s *Store) CompleteSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM sessions WHERE id = ?", sessionID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewError(types.ErrPersistenceFailure, "session %d not found", sessionID)
	}
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to read session %d", sessionID)
	}
	switch types.SessionStatus(status) {
	case types.SessionReady, types.SessionInProgress:
	default:
		return types.NewError(types.ErrPersistenceFailure,
			"session %d cannot complete from status %s", sessionID, status)
	}

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM changes
		 WHERE session_id = ? AND order_index IS NOT NULL
		   AND review_status NOT IN (?, ?)`,
		sessionID, string(types.StatusReviewed), string(types.StatusSkipped),
	).Scan(&pending)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to count pending changes")
	}
	if pending > 0 {
		return types.NewError(types.ErrPendingChanges,
			"%d changes still awaiting review", pending)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(types.SessionCompleted), sessionID,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to complete session %d", sessionID)
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to commit completion")
	}

	s.logger.Info("Session completed", zap.Int64("session_id", sessionID))
	return nil
}

// SessionSummary aggregates change counts for reporting.
func (s *Store) SessionSummary(ctx context.Context, sessionID int64) (*Summary, error) {
	sess, err := s.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{
		ReferenceID:      sess.ReferenceID,
		Status:           sess.Status,
		ReviewedCount:    sess.ReviewedCount,
		SkippedCount:     sess.SkippedCount,
		ByClassification: make(map[types.Classification]int),
		ByObjectType:     make(map[types.ObjectType]int),
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT classification, COUNT(*) FROM changes
		 WHERE session_id = ? GROUP BY classification`, sessionID)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to count classifications")
	}
	defer rows.Close()
	for rows.Next() {
		var cls string
		var n int
		if err := rows.Scan(&cls, &n); err != nil {
			return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to scan classification count")
		}
		sum.ByClassification[types.Classification(cls)] = n
		sum.TotalChanges += n
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to read classification counts")
	}

	typeRows, err := s.db.QueryContext(ctx,
		`SELECT o.object_type, COUNT(*) FROM changes c
		 JOIN objects o ON o.id = c.object_id
		 WHERE c.session_id = ? GROUP BY o.object_type`, sessionID)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to count object types")
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var ot string
		var n int
		if err := typeRows.Scan(&ot, &n); err != nil {
			return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to scan type count")
		}
		sum.ByObjectType[types.ObjectType(ot)] = n
	}
	return sum, typeRows.Err()
}

const sessionSelect = `SELECT id, reference_id, status, reviewed_count,
	skipped_count, COALESCE(error_log, ''), created_at, updated_at FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*Session, error) {
	return scanSessionRow(row)
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var sess Session
	var status string
	err := row.Scan(&sess.ID, &sess.ReferenceID, &status, &sess.ReviewedCount,
		&sess.SkippedCount, &sess.ErrorLog, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrPersistenceFailure, "session not found")
	}
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to scan session")
	}
	sess.Status = types.SessionStatus(status)
	return &sess, nil
}
