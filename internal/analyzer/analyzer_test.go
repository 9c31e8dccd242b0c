package analyzer

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"appmerge/internal/config"
	"appmerge/internal/store"
	"appmerge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for entry, content := range files {
		ew, err := w.Create(entry)
		if err != nil {
			t.Fatalf("Failed to add %s: %v", entry, err)
		}
		if _, err := ew.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func ifaceXML(uuid, name, version, code string) string {
	return fmt.Sprintf(`<interface>
		<uuid>%s</uuid>
		<name>%s</name>
		<versionUuid>%s</versionUuid>
		<definition>%s</definition>
	</interface>`, uuid, name, version, code)
}

func ruleXML(uuid, name, version, code string) string {
	return fmt.Sprintf(`<rule>
		<uuid>%s</uuid>
		<name>%s</name>
		<versionUuid>%s</versionUuid>
		<definition>%s</definition>
	</rule>`, uuid, name, version, code)
}

func constXML(uuid, name, version, value string) string {
	return fmt.Sprintf(`<constant>
		<uuid>%s</uuid>
		<name>%s</name>
		<versionUuid>%s</versionUuid>
		<value>%s</value>
		<type>Text</type>
	</constant>`, uuid, name, version, value)
}

func pmXML(uuid, name, version string, nodes, flows, vars int) string {
	body := ""
	body += "<nodes>"
	for i := 0; i < nodes; i++ {
		body += fmt.Sprintf(`<node uuid="n%d" name="Node%d" type="generic"/>`, i, i)
	}
	body += "</nodes><flows>"
	for i := 0; i < flows; i++ {
		body += fmt.Sprintf(`<flow from="n%d" to="n%d"/>`, i, i+1)
	}
	body += "</flows><variables>"
	for i := 0; i < vars; i++ {
		body += fmt.Sprintf(`<variable name="var%d" type="Text"/>`, i)
	}
	body += "</variables>"
	return fmt.Sprintf(`<processModel>
		<uuid>%s</uuid><name>%s</name><versionUuid>%s</versionUuid>%s
	</processModel>`, uuid, name, version, body)
}

// harness builds an analyzer over a fresh store and three package zips.
type harness struct {
	store    *store.Store
	analyzer *Analyzer
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")

	st, err := store.Open(cfg.Storage.DatabasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a, err := New(st, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to build analyzer: %v", err)
	}
	return &harness{store: st, analyzer: a, dir: dir}
}

func (h *harness) run(t *testing.T, base, customized, vendor map[string]string) (*store.Session, error) {
	t.Helper()
	return h.analyzer.Run(context.Background(), Request{
		BasePath:       writeZip(t, h.dir, "base.zip", base),
		CustomizedPath: writeZip(t, h.dir, "customized.zip", customized),
		NewVendorPath:  writeZip(t, h.dir, "vendor.zip", vendor),
	})
}

func TestRun_CoEditedIdenticalIsNoConflict(t *testing.T) {
	h := newHarness(t)

	base := map[string]string{"interface/X.xml": ifaceXML("u-x", "X", "v1", "v1code()")}
	cust := map[string]string{"interface/X.xml": ifaceXML("u-x", "X", "v2b", "v2code()")}
	vend := map[string]string{"interface/X.xml": ifaceXML("u-x", "X", "v2c", "v2code()")}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sess.Status != types.SessionReady {
		t.Errorf("Expected ready, got %s", sess.Status)
	}

	changes, err := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Classification != types.ClassNoConflict {
		t.Errorf("B=C co-edit should be NO_CONFLICT, got %s", c.Classification)
	}
	if c.VendorKind != types.KindModified || c.CustomerKind != types.KindModified {
		t.Errorf("Both kinds should be MODIFIED, got %s/%s", c.VendorKind, c.CustomerKind)
	}
	if c.OrderIndex == nil || *c.OrderIndex != 0 {
		t.Errorf("Co-edited identical change should be queued at 0, got %v", c.OrderIndex)
	}
}

func TestRun_DivergentCoEditIsConflict(t *testing.T) {
	h := newHarness(t)

	base := map[string]string{"processModel/P.xml": pmXML("u-p", "P", "v1", 4, 4, 2)}
	cust := map[string]string{"processModel/P.xml": pmXML("u-p", "P", "v2b", 5, 5, 2)}
	vend := map[string]string{"processModel/P.xml": pmXML("u-p", "P", "v2c", 5, 5, 3)}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	changes, _ := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if len(changes) != 1 || changes[0].Classification != types.ClassConflict {
		t.Fatalf("Diverging edits should be CONFLICT, got %+v", changes)
	}
}

func TestRun_ConstantCoEditIdentical(t *testing.T) {
	h := newHarness(t)

	base := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "MANY_TO_ONE")}
	cust := map[string]string{"constant/K.xml": constXML("u-k", "K", "v2b", "MANY_TO_ONEE")}
	vend := map[string]string{"constant/K.xml": constXML("u-k", "K", "v2c", "MANY_TO_ONEE")}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	changes, _ := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if len(changes) != 1 || changes[0].Classification != types.ClassNoConflict {
		t.Fatalf("Identical constant edits should be NO_CONFLICT, got %+v", changes)
	}
}

func TestRun_VendorRemovedCustomerModified(t *testing.T) {
	h := newHarness(t)

	base := map[string]string{
		"rule/R.xml":     ruleXML("u-r", "R", "v1", "1 + 1"),
		"constant/K.xml": constXML("u-k", "K", "v1", "keep"),
	}
	cust := map[string]string{
		"rule/R.xml":     ruleXML("u-r", "R", "v2b", "2 + 2"),
		"constant/K.xml": constXML("u-k", "K", "v1", "keep"),
	}
	vend := map[string]string{
		"constant/K.xml": constXML("u-k", "K", "v1", "keep"),
	}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	changes, _ := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Classification != types.ClassConflict {
		t.Errorf("Removed-vs-modified should be CONFLICT, got %s", c.Classification)
	}
	if c.VendorKind != types.KindRemoved || c.CustomerKind != types.KindModified {
		t.Errorf("Expected REMOVED/MODIFIED, got %s/%s", c.VendorKind, c.CustomerKind)
	}
}

func TestRun_BothIntroduceSameUUID(t *testing.T) {
	h := newHarness(t)

	base := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "anchor")}
	cust := map[string]string{
		"constant/K.xml": constXML("u-k", "K", "v1", "anchor"),
		"rule/N.xml":     ruleXML("u-n", "N", "v1b", "customer version"),
	}
	vend := map[string]string{
		"constant/K.xml": constXML("u-k", "K", "v1", "anchor"),
		"rule/N.xml":     ruleXML("u-n", "N", "v1c", "vendor version"),
	}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	changes, _ := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if len(changes) != 1 || changes[0].Classification != types.ClassNew {
		t.Fatalf("Doubly introduced object should be NEW, got %+v", changes)
	}

	// Both versions stay available for the reviewer.
	ctx := context.Background()
	custV, err := h.store.VersionByRole(ctx, sess.ID, "u-n", types.RoleCustomized)
	if err != nil || custV == nil {
		t.Fatalf("Customer version missing: %v", err)
	}
	vendV, err := h.store.VersionByRole(ctx, sess.ID, "u-n", types.RoleNewVendor)
	if err != nil || vendV == nil {
		t.Fatalf("Vendor version missing: %v", err)
	}
	if custV.Code == vendV.Code {
		t.Error("The two introductions should differ")
	}
}

func TestRun_IdenticalPackages(t *testing.T) {
	h := newHarness(t)

	files := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "same")}
	sess, err := h.run(t, files, files, files)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sess.Status != types.SessionReady {
		t.Errorf("Expected ready, got %s", sess.Status)
	}
	if sess.ReviewedCount != 0 || sess.SkippedCount != 0 {
		t.Errorf("Counters should be zero, got %d/%d", sess.ReviewedCount, sess.SkippedCount)
	}

	changes, _ := h.store.ListChanges(context.Background(), sess.ID, store.ChangeFilter{})
	if len(changes) != 0 {
		t.Errorf("Identical packages should yield zero changes, got %d", len(changes))
	}
}

func TestRun_ValidationFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t)

	good := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "x")}
	badPath := filepath.Join(h.dir, "broken.zip")
	if err := os.WriteFile(badPath, []byte("not a zip archive"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := h.analyzer.Run(context.Background(), Request{
		BasePath:       writeZip(t, h.dir, "base.zip", good),
		CustomizedPath: badPath,
		NewVendorPath:  writeZip(t, h.dir, "vendor.zip", good),
	})
	if !types.IsKind(err, types.ErrPackageValidation) {
		t.Fatalf("Expected PackageValidation, got %v", err)
	}

	sessions, listErr := h.store.ListSessions(context.Background())
	if listErr != nil {
		t.Fatal(listErr)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Status != types.SessionFailed {
		t.Errorf("Expected failed, got %s", sessions[0].Status)
	}
	if sessions[0].ErrorLog == "" {
		t.Error("Failure should record an error log")
	}

	changes, _ := h.store.ListChanges(context.Background(), sessions[0].ID, store.ChangeFilter{})
	if len(changes) != 0 {
		t.Errorf("Failed run must leave no analysis rows, got %d changes", len(changes))
	}
}

func TestRun_EmitsTenOrderedStepEvents(t *testing.T) {
	h := newHarness(t)

	var events []types.StepEvent
	h.analyzer.OnStep(func(ev types.StepEvent) {
		events = append(events, ev)
	})

	files := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "x")}
	if _, err := h.run(t, files, files, files); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(events) != 10 {
		t.Fatalf("Expected 10 step events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.StepIndex != i+1 {
			t.Errorf("Event %d has index %d", i, ev.StepIndex)
		}
		if ev.TotalSteps != 10 {
			t.Errorf("Event %d reports %d total steps", i, ev.TotalSteps)
		}
		if ev.Name == "" {
			t.Errorf("Event %d has no name", i)
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files := map[string]string{"constant/K.xml": constXML("u-k", "K", "v1", "x")}
	_, err := h.analyzer.Run(ctx, Request{
		BasePath:       writeZip(t, h.dir, "base.zip", files),
		CustomizedPath: writeZip(t, h.dir, "customized.zip", files),
		NewVendorPath:  writeZip(t, h.dir, "vendor.zip", files),
	})
	if !types.IsKind(err, types.ErrCancelled) {
		t.Fatalf("Expected Cancelled, got %v", err)
	}
}

func TestRun_CrossPackageReferenceResolution(t *testing.T) {
	h := newHarness(t)

	// The vendor introduces a rule that the customized interface references
	// by uuid; after formatting, the code shows rule!Helper.
	refUUID := "_a-0000bbbb-2222-8000-9bb7-000000000002"
	base := map[string]string{
		"interface/X.xml": ifaceXML("u-x", "X", "v1", "a!textField()"),
	}
	cust := map[string]string{
		"interface/X.xml": ifaceXML("u-x", "X", "v2b", "rule!"+refUUID+"()"),
	}
	vend := map[string]string{
		"interface/X.xml": ifaceXML("u-x", "X", "v1", "a!textField()"),
		"rule/Helper.xml": ruleXML(refUUID, "Helper", "v1", "42"),
	}

	sess, err := h.run(t, base, cust, vend)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	v, err := h.store.VersionByRole(context.Background(), sess.ID, "u-x", types.RoleCustomized)
	if err != nil || v == nil {
		t.Fatalf("Customized version missing: %v", err)
	}
	if v.Code != "rule!Helper()" {
		t.Errorf("Reference should resolve across packages, got %q", v.Code)
	}
}
