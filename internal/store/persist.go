package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"appmerge/internal/canonical"
	"appmerge/internal/types"
)

// PackagePayload is one ingested package with its parsed objects.
type PackagePayload struct {
	Role     types.PackageRole
	FileName string
	Objects  types.Lookup
}

// AnalysisPayload is everything the pipeline produces for one session.
type AnalysisPayload struct {
	Packages      []PackagePayload
	VendorDelta   []types.DeltaRecord
	CustomerDelta []types.DeltaRecord
	Changes       []types.Change
}

// SaveAnalysis writes the full payload in one transaction and transitions
// the session to ready. On error nothing is persisted; the caller marks
// the session failed.
func (s *Store) SaveAnalysis(ctx context.Context, sessionID int64, payload *AnalysisPayload) error {
	start := time.Now()

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
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to read session %d", sessionID)
	}
	if types.SessionStatus(status) != types.SessionProcessing {
		return types.NewError(types.ErrPersistenceFailure,
			"session %d is %s, expected processing", sessionID, status)
	}

	objectIDs := make(map[string]int64)
	versionIDs := make(map[types.PackageRole]map[string]int64)

	for _, pkg := range payload.Packages {
		pkgID, err := s.insertPackage(ctx, tx, sessionID, pkg)
		if err != nil {
			return err
		}
		versions := make(map[string]int64, len(pkg.Objects))
		for _, uuid := range sortedUUIDs(pkg.Objects) {
			obj := pkg.Objects[uuid]
			objID, err := s.getOrInsertObject(ctx, tx, obj)
			if err != nil {
				return err
			}
			objectIDs[uuid] = objID
			verID, err := s.insertVersion(ctx, tx, sessionID, pkgID, objID, obj)
			if err != nil {
				return err
			}
			versions[uuid] = verID
		}
		versionIDs[pkg.Role] = versions
	}

	if err := s.insertDelta(ctx, tx, "vendor_delta", sessionID, payload.VendorDelta,
		objectIDs, versionIDs[types.RoleBase], versionIDs[types.RoleNewVendor]); err != nil {
		return err
	}
	if err := s.insertDelta(ctx, tx, "customer_delta", sessionID, payload.CustomerDelta,
		objectIDs, versionIDs[types.RoleBase], versionIDs[types.RoleCustomized]); err != nil {
		return err
	}

	for _, c := range payload.Changes {
		objID, ok := objectIDs[c.UUID]
		if !ok {
			return types.NewError(types.ErrPersistenceFailure,
				"change %s references no ingested object", c.UUID)
		}
		var orderIndex any
		if c.OrderIndex != nil {
			orderIndex = *c.OrderIndex
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO changes (session_id, object_id, classification,
				vendor_kind, customer_kind, review_status, notes, order_index)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, objID, string(c.Classification),
			nullable(string(c.VendorKind)), nullable(string(c.CustomerKind)),
			string(types.StatusPending), c.Notes, orderIndex,
		)
		if err != nil {
			return types.WrapError(types.ErrPersistenceFailure, err,
				"failed to insert change for %s", c.UUID)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(types.SessionReady), sessionID,
	)
	if err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to mark session ready")
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.ErrPersistenceFailure, err, "failed to commit analysis")
	}

	s.logger.Info("Analysis persisted",
		zap.Int64("session_id", sessionID),
		zap.Int("changes", len(payload.Changes)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Store) insertPackage(ctx context.Context, tx *sql.Tx, sessionID int64, pkg PackagePayload) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO packages (session_id, role, file_name, object_count) VALUES (?, ?, ?, ?)",
		sessionID, string(pkg.Role), pkg.FileName, len(pkg.Objects),
	)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to insert package %s", pkg.Role)
	}
	return res.LastInsertId()
}

// getOrInsertObject resolves the registry row for a uuid. First sighting
// wins: a later session never rewrites the stored display name.
func (s *Store) getOrInsertObject(ctx context.Context, tx *sql.Tx, obj *types.ParsedObject) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO objects (uuid, name, object_type) VALUES (?, ?, ?)
		 ON CONFLICT(uuid) DO NOTHING`,
		obj.UUID, obj.Name, string(obj.Type),
	)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to register object %s", obj.UUID)
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM objects WHERE uuid = ?", obj.UUID,
	).Scan(&id)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to resolve object %s", obj.UUID)
	}
	return id, nil
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, sessionID, pkgID, objID int64, obj *types.ParsedObject) (int64, error) {
	fieldsJSON, err := json.Marshal(obj.Fields)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to encode fields for %s", obj.UUID)
	}
	propsJSON, err := json.Marshal(obj.Properties)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to encode properties for %s", obj.UUID)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO object_versions (session_id, package_id, object_id, name,
			version_uuid, code, fields_json, properties_json, fingerprint, deprecated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, pkgID, objID, obj.Name, obj.VersionUUID, obj.Code,
		string(fieldsJSON), string(propsJSON),
		canonical.FingerprintObject(obj), boolToInt(obj.Deprecated),
	)
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err,
			"failed to insert version of %s", obj.UUID)
	}
	verID, err := res.LastInsertId()
	if err != nil {
		return 0, types.WrapError(types.ErrPersistenceFailure, err, "failed to read version id")
	}

	if table, ok := detailTableFor[obj.Type]; ok && obj.Fields != nil {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO "+table+" (object_version_id, payload_json) VALUES (?, ?)",
			verID, string(fieldsJSON),
		)
		if err != nil {
			return 0, types.WrapError(types.ErrPersistenceFailure, err,
				"failed to insert %s row for %s", table, obj.UUID)
		}
	}
	return verID, nil
}

func (s *Store) insertDelta(ctx context.Context, tx *sql.Tx, table string, sessionID int64,
	records []types.DeltaRecord, objectIDs map[string]int64, oldVersions, newVersions map[string]int64) error {
	for _, rec := range records {
		objID, ok := objectIDs[rec.UUID]
		if !ok {
			return types.NewError(types.ErrPersistenceFailure,
				"%s record %s references no ingested object", table, rec.UUID)
		}
		var oldID, newID any
		if rec.Old != nil {
			if id, ok := oldVersions[rec.UUID]; ok {
				oldID = id
			}
		}
		if rec.New != nil {
			if id, ok := newVersions[rec.UUID]; ok {
				newID = id
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (session_id, object_id, change_kind,
				old_version_id, new_version_id, summary)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, objID, string(rec.Kind), oldID, newID, rec.Summary,
		)
		if err != nil {
			return types.WrapError(types.ErrPersistenceFailure, err,
				"failed to insert %s row for %s", table, rec.UUID)
		}
	}
	return nil
}

func sortedUUIDs(lookup types.Lookup) []string {
	uuids := make([]string, 0, len(lookup))
	for uuid := range lookup {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	return uuids
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
