package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"appmerge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testObject(uuid, name string, ot types.ObjectType, code string) *types.ParsedObject {
	return &types.ParsedObject{
		UUID: uuid, Name: name, Type: ot,
		VersionUUID: "v-" + uuid, Code: code,
	}
}

// testPayload builds a coherent three-package payload: the vendor modified
// objA, the customer modified objB.
func testPayload() *AnalysisPayload {
	baseA := testObject("u-a", "Alpha", types.TypeInterface, "a!textField()")
	baseB := testObject("u-b", "Beta", types.TypeConstant, "")
	vendA := testObject("u-a", "Alpha", types.TypeInterface, "a!textField(label: \"x\")")
	vendA.VersionUUID = "v2-u-a"
	custB := testObject("u-b", "Beta", types.TypeConstant, "")
	custB.Fields = map[string]any{"value": "changed"}
	custB.VersionUUID = "v2-u-b"

	idx := 0
	return &AnalysisPayload{
		Packages: []PackagePayload{
			{Role: types.RoleBase, FileName: "base.zip",
				Objects: types.Lookup{"u-a": baseA, "u-b": baseB}},
			{Role: types.RoleCustomized, FileName: "cust.zip",
				Objects: types.Lookup{"u-a": baseA, "u-b": custB}},
			{Role: types.RoleNewVendor, FileName: "vendor.zip",
				Objects: types.Lookup{"u-a": vendA, "u-b": baseB}},
		},
		VendorDelta: []types.DeltaRecord{
			{UUID: "u-a", Name: "Alpha", Type: types.TypeInterface,
				Kind: types.KindModified, Old: baseA, New: vendA, Summary: "Content changed"},
		},
		CustomerDelta: []types.DeltaRecord{
			{UUID: "u-b", Name: "Beta", Type: types.TypeConstant,
				Kind: types.KindModified, Old: baseB, New: custB, Summary: "Content changed"},
		},
		Changes: []types.Change{
			{UUID: "u-a", Name: "Alpha", Type: types.TypeInterface,
				Classification: types.ClassNoConflict, VendorKind: types.KindModified,
				ReviewStatus: types.StatusPending, OrderIndex: &idx},
			{UUID: "u-b", Name: "Beta", Type: types.TypeConstant,
				Classification: types.ClassNoConflict, CustomerKind: types.KindModified,
				ReviewStatus: types.StatusPending},
		},
	}
}

func readySession(t *testing.T, s *Store) *Session {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.SaveAnalysis(ctx, sess.ID, testPayload()); err != nil {
		t.Fatalf("Failed to save analysis: %v", err)
	}
	return sess
}

func TestCreateSession_ReferenceSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, want := range []string{"MRG_001", "MRG_002", "MRG_003"} {
		sess, err := s.CreateSession(ctx)
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if sess.ReferenceID != want {
			t.Errorf("Session %d: expected %s, got %s", i, want, sess.ReferenceID)
		}
		if sess.Status != types.SessionProcessing {
			t.Errorf("New session should be processing, got %s", sess.Status)
		}
	}
}

func TestCreateSession_FourDigitOverflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(
		"INSERT INTO sessions (reference_id, status) VALUES ('MRG_999', 'completed')"); err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ReferenceID != "MRG_1000" {
		t.Errorf("Expected MRG_1000 past three digits, got %s", sess.ReferenceID)
	}
}

func TestCreateSession_IgnoresForeignFormats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(
		"INSERT INTO sessions (reference_id, status) VALUES ('LEGACY-77', 'completed')"); err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ReferenceID != "MRG_001" {
		t.Errorf("Sequence should restart at MRG_001, got %s", sess.ReferenceID)
	}
}

func TestCreateSession_ConcurrentDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := s.CreateSession(ctx)
			if err != nil {
				t.Errorf("Concurrent create failed: %v", err)
				return
			}
			refs[i] = sess.ReferenceID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, ref := range refs {
		if seen[ref] {
			t.Fatalf("Duplicate reference id %s", ref)
		}
		seen[ref] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[fmt.Sprintf("MRG_%03d", i)] {
			t.Errorf("Expected contiguous range, missing MRG_%03d", i)
		}
	}
}

func TestSaveAnalysis_TransitionsToReady(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)

	got, err := s.SessionByReference(context.Background(), sess.ReferenceID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionReady {
		t.Errorf("Expected ready after persist, got %s", got.Status)
	}
}

func TestSaveAnalysis_RejectsNonProcessing(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)

	if err := s.SaveAnalysis(context.Background(), sess.ID, testPayload()); err == nil {
		t.Error("Second persist on the same session should fail")
	}
}

func TestListChanges_QueueOrderAndExclusion(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)

	changes, err := s.ListChanges(context.Background(), sess.ID, ChangeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(changes))
	}
	if changes[0].UUID != "u-a" || changes[0].OrderIndex == nil {
		t.Errorf("Queued change should list first: %+v", changes[0])
	}
	if changes[1].UUID != "u-b" || changes[1].OrderIndex != nil {
		t.Errorf("Customer-only change should list last with nil index: %+v", changes[1])
	}
}

func TestUpdateReviewStatus_DerivedCounters(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)
	ctx := context.Background()

	if err := s.UpdateReviewStatus(ctx, sess.ID, "u-a", types.StatusReviewed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReviewStatus(ctx, sess.ID, "u-b", types.StatusSkipped); err != nil {
		t.Fatal(err)
	}
	// Re-reviewing must not drift the counters.
	if err := s.UpdateReviewStatus(ctx, sess.ID, "u-a", types.StatusReviewed); err != nil {
		t.Fatal(err)
	}

	got, err := s.SessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReviewedCount != 1 || got.SkippedCount != 1 {
		t.Errorf("Expected reviewed=1 skipped=1, got %d/%d", got.ReviewedCount, got.SkippedCount)
	}
	if got.Status != types.SessionInProgress {
		t.Errorf("First review action should move session to in_progress, got %s", got.Status)
	}
}

func TestCompleteSession_Gating(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)
	ctx := context.Background()

	err := s.CompleteSession(ctx, sess.ID)
	if !types.IsKind(err, types.ErrPendingChanges) {
		t.Fatalf("Expected PendingChanges error, got %v", err)
	}

	// Only the queued change gates completion; u-b has no order index.
	if err := s.UpdateReviewStatus(ctx, sess.ID, "u-a", types.StatusReviewed); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("Complete should succeed once queued changes are terminal: %v", err)
	}

	got, _ := s.SessionByID(ctx, sess.ID)
	if got.Status != types.SessionCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
}

func TestMarkFailed_IsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkFailed(ctx, sess.ID, "read packages: corrupt archive"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.SessionByID(ctx, sess.ID)
	if got.Status != types.SessionFailed || got.ErrorLog == "" {
		t.Errorf("Expected failed with error log, got %+v", got)
	}

	if err := s.SaveAnalysis(ctx, sess.ID, testPayload()); err == nil {
		t.Error("Failed session should reject analysis persist")
	}
	if err := s.UpdateReviewStatus(ctx, sess.ID, "u-a", types.StatusReviewed); err == nil {
		t.Error("Failed session should reject review actions")
	}
}

func TestObjectRegistry_FirstSightingWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	readySession(t, s)

	// Second session renames Alpha; the registry row keeps the old name,
	// the session's version rows carry the new one.
	sess2, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	payload := testPayload()
	for _, pkg := range payload.Packages {
		if obj, ok := pkg.Objects["u-a"]; ok {
			obj.Name = "Alpha Renamed"
		}
	}
	payload.Changes[0].Name = "Alpha Renamed"
	if err := s.SaveAnalysis(ctx, sess2.ID, payload); err != nil {
		t.Fatal(err)
	}

	var count int
	var registryName string
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM objects WHERE uuid = 'u-a'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("Registry should hold one row per uuid, got %d", count)
	}
	if err := s.db.QueryRow(
		"SELECT name FROM objects WHERE uuid = 'u-a'").Scan(&registryName); err != nil {
		t.Fatal(err)
	}
	if registryName != "Alpha" {
		t.Errorf("Registry name should not be rewritten, got %s", registryName)
	}

	changes, err := s.ListChanges(ctx, sess2.ID, ChangeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if changes[0].Name != "Alpha Renamed" {
		t.Errorf("Change listing should show the session name, got %s", changes[0].Name)
	}
}

func TestSessionSummary_Counts(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)
	ctx := context.Background()

	sum, err := s.SessionSummary(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalChanges != 2 {
		t.Errorf("Expected 2 total changes, got %d", sum.TotalChanges)
	}
	if sum.ByClassification[types.ClassNoConflict] != 2 {
		t.Errorf("Expected 2 NO_CONFLICT, got %v", sum.ByClassification)
	}
	if sum.ByObjectType[types.TypeInterface] != 1 || sum.ByObjectType[types.TypeConstant] != 1 {
		t.Errorf("Unexpected type counts %v", sum.ByObjectType)
	}
}

func TestNotesAndAISummary(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)
	ctx := context.Background()

	if err := s.UpdateNotes(ctx, sess.ID, "u-a", "verify the label change"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAISummary(ctx, sess.ID, "u-a", "Label text updated.", "ready"); err != nil {
		t.Fatal(err)
	}

	change, err := s.GetChange(ctx, sess.ID, "u-a")
	if err != nil {
		t.Fatal(err)
	}
	if change.Notes != "verify the label change" {
		t.Errorf("Notes not persisted: %q", change.Notes)
	}
	if change.AISummary != "Label text updated." || change.AISummaryStatus != "ready" {
		t.Errorf("Summary not persisted: %+v", change)
	}
	if change.AISummaryAt == nil {
		t.Error("Summary timestamp missing")
	}
}

func TestVersionByRole(t *testing.T) {
	s := newTestStore(t)
	sess := readySession(t, s)
	ctx := context.Background()

	base, err := s.VersionByRole(ctx, sess.ID, "u-a", types.RoleBase)
	if err != nil {
		t.Fatal(err)
	}
	vendor, err := s.VersionByRole(ctx, sess.ID, "u-a", types.RoleNewVendor)
	if err != nil {
		t.Fatal(err)
	}
	if base == nil || vendor == nil {
		t.Fatal("Expected versions on both sides")
	}
	if base.Code == vendor.Code {
		t.Error("Vendor edit should differ from base code")
	}
	if base.Fingerprint == vendor.Fingerprint {
		t.Error("Fingerprints should differ for different content")
	}

	missing, err := s.VersionByRole(ctx, sess.ID, "u-missing", types.RoleBase)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("Unknown uuid should return nil version")
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateSession(ctx); err != nil {
			t.Fatal(err)
		}
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].ReferenceID != "MRG_003" {
		t.Errorf("Newest session should list first, got %s", sessions[0].ReferenceID)
	}
}
