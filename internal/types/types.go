// Package types defines the shared vocabulary of the merge analyzer:
// object types, package roles, change kinds, classifications, and the
// parsed-object record every pipeline stage operates on.
package types

import "time"

// ObjectType identifies the kind of Appian object an XML entry describes.
type ObjectType string

const (
	TypeInterface       ObjectType = "Interface"
	TypeExpressionRule  ObjectType = "Expression Rule"
	TypeProcessModel    ObjectType = "Process Model"
	TypeRecordType      ObjectType = "Record Type"
	TypeCDT             ObjectType = "CDT"
	TypeConstant        ObjectType = "Constant"
	TypeSite            ObjectType = "Site"
	TypeGroup           ObjectType = "Group"
	TypeIntegration     ObjectType = "Integration"
	TypeWebAPI          ObjectType = "Web API"
	TypeConnectedSystem ObjectType = "Connected System"
	TypeDataStore       ObjectType = "Data Store"
	TypeUnknown         ObjectType = "Unknown"
)

// typeByDir maps archive directory names to object types. Entries outside
// these directories are treated as Unknown.
var typeByDir = map[string]ObjectType{
	"interface":       TypeInterface,
	"rule":            TypeExpressionRule,
	"processModel":    TypeProcessModel,
	"recordType":      TypeRecordType,
	"cdt":             TypeCDT,
	"constant":        TypeConstant,
	"site":            TypeSite,
	"group":           TypeGroup,
	"integration":     TypeIntegration,
	"webApi":          TypeWebAPI,
	"connectedSystem": TypeConnectedSystem,
	"dataStore":       TypeDataStore,
}

// TypeForDir resolves an archive directory name to an object type.
func TypeForDir(dir string) ObjectType {
	if t, ok := typeByDir[dir]; ok {
		return t
	}
	return TypeUnknown
}

// KnownDirs returns the set of recognized archive directory names.
func KnownDirs() []string {
	dirs := make([]string, 0, len(typeByDir))
	for d := range typeByDir {
		dirs = append(dirs, d)
	}
	return dirs
}

// Scripted reports whether the object type carries SAIL code.
func (t ObjectType) Scripted() bool {
	switch t {
	case TypeInterface, TypeExpressionRule, TypeIntegration, TypeWebAPI:
		return true
	}
	return false
}

// PackageRole tags one of the three packages in an analysis session.
type PackageRole string

const (
	RoleBase       PackageRole = "base"
	RoleCustomized PackageRole = "customized"
	RoleNewVendor  PackageRole = "new_vendor"
)

// Label returns the user-facing name used in validation error messages.
func (r PackageRole) Label() string {
	switch r {
	case RoleBase:
		return "Base Package (A)"
	case RoleCustomized:
		return "Customized Package (B)"
	case RoleNewVendor:
		return "New Vendor Package (C)"
	}
	return string(r)
}

// ChangeKind is the per-object result of a two-package comparison.
type ChangeKind string

const (
	KindNew        ChangeKind = "NEW"
	KindModified   ChangeKind = "MODIFIED"
	KindDeprecated ChangeKind = "DEPRECATED"
	KindRemoved    ChangeKind = "REMOVED"
)

// Gone reports whether the kind means the object left the newer package,
// whether by outright removal or by deprecation marker.
func (k ChangeKind) Gone() bool {
	return k == KindRemoved || k == KindDeprecated
}

// Classification is the final category assigned to a change in D ∪ E.
type Classification string

const (
	ClassNoConflict Classification = "NO_CONFLICT"
	ClassConflict   Classification = "CONFLICT"
	ClassNew        Classification = "NEW"
	ClassDeleted    Classification = "DELETED"
)

// ReviewStatus tracks reviewer progress on a single change.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusReviewed ReviewStatus = "reviewed"
	StatusSkipped  ReviewStatus = "skipped"
)

// Terminal reports whether the status counts toward session completion.
func (s ReviewStatus) Terminal() bool {
	return s == StatusReviewed || s == StatusSkipped
}

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionReady      SessionStatus = "ready"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// ParsedObject is the typed record the parser produces for one XML entry.
// Code holds the scripted SAIL body for scripted types; Fields and
// Properties hold the type-specific structured payload. RawXML preserves
// the original bytes for fallback display and Unknown comparisons.
type ParsedObject struct {
	UUID        string
	Name        string
	Type        ObjectType
	VersionUUID string
	Code        string
	Fields      map[string]any
	Properties  map[string]any
	RawXML      string
	Deprecated  bool
}

// Lookup is a package's object map keyed by uuid.
type Lookup map[string]*ParsedObject

// DeltaRecord is one entry of a delta set (D or E).
type DeltaRecord struct {
	UUID    string
	Name    string
	Type    ObjectType
	Kind    ChangeKind
	Old     *ParsedObject
	New     *ParsedObject
	Summary string
}

// Change is one classified entry of the working set.
type Change struct {
	UUID           string
	Name           string
	Type           ObjectType
	Classification Classification
	VendorKind     ChangeKind // empty when the uuid is absent from D
	CustomerKind   ChangeKind // empty when the uuid is absent from E
	ReviewStatus   ReviewStatus
	Notes          string
	OrderIndex     *int // nil for customer-only changes kept out of the queue
}

// StepEvent is emitted by the orchestrator once per pipeline step.
type StepEvent struct {
	StepIndex  int
	TotalSteps int
	Name       string
	Elapsed    time.Duration
	Counts     map[string]int
}
