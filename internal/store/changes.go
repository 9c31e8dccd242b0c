package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"appmerge/internal/types"
)

// ChangeRow is one persisted change with its registry and review fields.
type ChangeRow struct {
	ID              int64
	UUID            string
	Name            string
	Type            types.ObjectType
	Classification  types.Classification
	VendorKind      types.ChangeKind
	CustomerKind    types.ChangeKind
	ReviewStatus    types.ReviewStatus
	Notes           string
	AISummary       string
	AISummaryStatus string
	AISummaryAt     *time.Time
	OrderIndex      *int
}

// ChangeFilter narrows ListChanges. Empty fields match everything;
// NameSearch is a case-insensitive substring match on the display name.
type ChangeFilter struct {
	Classifications []types.Classification
	ObjectTypes     []types.ObjectType
	Statuses        []types.ReviewStatus
	NameSearch      string
}

const changeSelect = `
	SELECT c.id, o.uuid,
		COALESCE((SELECT v.name FROM object_versions v
			WHERE v.session_id = c.session_id AND v.object_id = c.object_id
			ORDER BY v.id DESC LIMIT 1), o.name) AS display_name,
		o.object_type, c.classification,
		COALESCE(c.vendor_kind, ''), COALESCE(c.customer_kind, ''),
		c.review_status, COALESCE(c.notes, ''),
		COALESCE(c.ai_summary, ''), COALESCE(c.ai_summary_status, ''),
		c.ai_summary_generated_at, c.order_index
	FROM changes c
	JOIN objects o ON o.id = c.object_id`

// ListChanges returns the session's changes in review-queue order: queued
// rows first by order index, then unqueued rows by type and name.
// Filtering never reorders.
func (s *Store) ListChanges(ctx context.Context, sessionID int64, filter ChangeFilter) ([]ChangeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := changeSelect + " WHERE c.session_id = ?"
	args := []any{sessionID}

	if len(filter.Classifications) > 0 {
		query += " AND c.classification IN (" + placeholders(len(filter.Classifications)) + ")"
		for _, cls := range filter.Classifications {
			args = append(args, string(cls))
		}
	}
	if len(filter.ObjectTypes) > 0 {
		query += " AND o.object_type IN (" + placeholders(len(filter.ObjectTypes)) + ")"
		for _, ot := range filter.ObjectTypes {
			args = append(args, string(ot))
		}
	}
	if len(filter.Statuses) > 0 {
		query += " AND c.review_status IN (" + placeholders(len(filter.Statuses)) + ")"
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.NameSearch != "" {
		// The alias is not visible to WHERE, so repeat the expression.
		query += ` AND LOWER(COALESCE((SELECT v.name FROM object_versions v
			WHERE v.session_id = c.session_id AND v.object_id = c.object_id
			ORDER BY v.id DESC LIMIT 1), o.name)) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.NameSearch)+"%")
	}

	query += ` ORDER BY c.order_index IS NULL, c.order_index,
		o.object_type, display_name, o.uuid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to list changes")
	}
	defer rows.Close()

	var changes []ChangeRow
	for rows.Next() {
		row, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *row)
	}
	return changes, rows.Err()
}

// GetChange fetches one change by session and object uuid.
func (s *Store) GetChange(ctx context.Context, sessionID int64, uuid string) (*ChangeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		changeSelect+" WHERE c.session_id = ? AND o.uuid = ?", sessionID, uuid)
	change, err := scanChange(row)
	if err != nil {
		return nil, err
	}
	return change, nil
}

// UpdateReviewStatus sets one change's review status and recomputes the
// session progress counters in the same transaction. Counters are always
// derived by GROUP BY over the change table, never incremented.
func (s *Store) UpdateReviewStatus(ctx context.Context, sessionID int64, uuid string, status types.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var sessStatus string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM sessions WHERE id = ?", sessionID,
	).Scan(&sessStatus)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to read session %d", sessionID)
	}
	switch types.SessionStatus(sessStatus) {
	case types.SessionReady, types.SessionInProgress:
	default:
		return types.NewError(types.ErrPersistenceFailure,
			"session %d does not accept review actions in status %s", sessionID, sessStatus)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE changes SET review_status = ?
		 WHERE session_id = ? AND object_id = (SELECT id FROM objects WHERE uuid = ?)`,
		string(status), sessionID, uuid,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err,
			"failed to update review status for %s", uuid)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrPersistenceFailure,
			"no change for object %s in session %d", uuid, sessionID)
	}

	if err := recomputeCounts(ctx, tx, sessionID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(types.SessionInProgress), sessionID,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to update session status")
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to commit review action")
	}

	s.logger.Debug("Review status updated",
		zap.Int64("session_id", sessionID),
		zap.String("uuid", uuid),
		zap.String("status", string(status)))
	return nil
}

// recomputeCounts derives the progress counters from the change table.
func recomputeCounts(ctx context.Context, tx *sql.Tx, sessionID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT review_status, COUNT(*) FROM changes
		 WHERE session_id = ? GROUP BY review_status`, sessionID)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to count review statuses")
	}
	defer rows.Close()

	reviewed, skipped := 0, 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return types.WrapError(types.ErrPersistenceFailure, err, "failed to scan status count")
		}
		switch types.ReviewStatus(status) {
		case types.StatusReviewed:
			reviewed = n
		case types.StatusSkipped:
			skipped = n
		}
	}
	if err := rows.Err(); err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to read status counts")
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET reviewed_count = ?, skipped_count = ? WHERE id = ?",
		reviewed, skipped, sessionID,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to store progress counters")
	}
	return nil
}

// UpdateNotes replaces the free-text note on one change.
func (s *Store) UpdateNotes(ctx context.Context, sessionID int64, uuid, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE changes SET notes = ?
		 WHERE session_id = ? AND object_id = (SELECT id FROM objects WHERE uuid = ?)`,
		notes, sessionID, uuid,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to update notes for %s", uuid)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrPersistenceFailure,
			"no change for object %s in session %d", uuid, sessionID)
	}
	return nil
}

// SetAISummary records an externally produced summary. The analyzer treats
// the content as opaque.
func (s *Store) SetAISummary(ctx context.Context, sessionID int64, uuid, summary, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE changes SET ai_summary = ?, ai_summary_status = ?,
			ai_summary_generated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND object_id = (SELECT id FROM objects WHERE uuid = ?)`,
		summary, status, sessionID, uuid,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to store summary for %s", uuid)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrPersistenceFailure,
			"no change for object %s in session %d", uuid, sessionID)
	}
	return nil
}

// Version is one stored object version, used for on-demand diff rendering.
type Version struct {
	ID             int64
	Name           string
	VersionUUID    string
	Code           string
	FieldsJSON     string
	PropertiesJSON string
	Fingerprint    string
	Deprecated     bool
}

// VersionByRole fetches the stored version of an object in one of the
// session's packages. Returns nil when the package holds no such object.
func (s *Store) VersionByRole(ctx context.Context, sessionID int64, uuid string, role types.PackageRole) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v Version
	var deprecated int
	err := s.db.QueryRowContext(ctx,
		`SELECT v.id, v.name, COALESCE(v.version_uuid, ''), COALESCE(v.code, ''),
			COALESCE(v.fields_json, ''), COALESCE(v.properties_json, ''),
			v.fingerprint, v.deprecated
		 FROM object_versions v
		 JOIN objects o ON o.id = v.object_id
		 JOIN packages p ON p.id = v.package_id
		 WHERE v.session_id = ? AND o.uuid = ? AND p.role = ?`,
		sessionID, uuid, string(role),
	).Scan(&v.ID, &v.Name, &v.VersionUUID, &v.Code, &v.FieldsJSON,
		&v.PropertiesJSON, &v.Fingerprint, &deprecated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to load %s version of %s", role, uuid)
	}
	v.Deprecated = deprecated == 1
	return &v, nil
}

func scanChange(row rowScanner) (*ChangeRow, error) {
	var c ChangeRow
	var cls, vendorKind, customerKind, status string
	var objType string
	var summaryAt sql.NullTime
	var orderIndex sql.NullInt64
	err := row.Scan(&c.ID, &c.UUID, &c.Name, &objType, &cls,
		&vendorKind, &customerKind, &status, &c.Notes,
		&c.AISummary, &c.AISummaryStatus, &summaryAt, &orderIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrPersistenceFailure, "change not found")
	}
	if err != nil {
		return nil, types.WrapError(types.ErrPersistenceFailure, err, "failed to scan change")
	}
	c.Type = types.ObjectType(objType)
	c.Classification = types.Classification(cls)
	c.VendorKind = types.ChangeKind(vendorKind)
	c.CustomerKind = types.ChangeKind(customerKind)
	c.ReviewStatus = types.ReviewStatus(status)
	if summaryAt.Valid {
		t := summaryAt.Time
		c.AISummaryAt = &t
	}
	if orderIndex.Valid {
		idx := int(orderIndex.Int64)
		c.OrderIndex = &idx
	}
	return &c, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
