// Package compare implements the pair comparator and the symmetric delta
// engine over two package object lookups.
package compare

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"appmerge/internal/canonical"
	"appmerge/internal/types"
)

// PairOutcome is the comparator verdict for two versions of one object.
type PairOutcome int

const (
	// Unchanged: the version uuids match; nothing to compare.
	Unchanged PairOutcome = iota
	// UnchangedNewVUUID: the version uuid moved but content is identical.
	// Appian edits that do not change output still represent user intent,
	// so the delta engine reports this as MODIFIED.
	UnchangedNewVUUID
	// Modified: content differs.
	Modified
)

// PairResult carries the outcome plus both comparison views when content
// was actually inspected.
type PairResult struct {
	Outcome PairOutcome
	OldView canonical.View
	NewView canonical.View
}

// ComparePair decides identical/modified for two versions of the same
// object: version uuids first, then fingerprints, then content views.
// Objects without version uuids (fallback records, XML missing the field)
// are judged on content alone; only a changed non-empty version uuid
// counts as a re-save signal.
func ComparePair(old, new *types.ParsedObject) PairResult {
	if old.VersionUUID != "" && old.VersionUUID == new.VersionUUID {
		return PairResult{Outcome: Unchanged}
	}

	oldView := canonical.Canonicalize(old)
	newView := canonical.Canonicalize(new)
	if canonical.Fingerprint(oldView) == canonical.Fingerprint(newView) {
		if old.VersionUUID == new.VersionUUID {
			return PairResult{Outcome: Unchanged, OldView: oldView, NewView: newView}
		}
		return PairResult{Outcome: UnchangedNewVUUID, OldView: oldView, NewView: newView}
	}

	return PairResult{Outcome: Modified, OldView: oldView, NewView: newView}
}

// Delta joins two package lookups by uuid and returns one record per
// difference, covering keys(old) ∪ keys(new). Unchanged objects are not
// emitted. Output is ordered by (object type, name) for stable persistence.
func Delta(old, new types.Lookup, logger *zap.Logger) []types.DeltaRecord {
	if logger == nil {
		logger = zap.NewNop()
	}

	var records []types.DeltaRecord

	for uuid, oldObj := range old {
		newObj, inNew := new[uuid]
		if !inNew {
			records = append(records, types.DeltaRecord{
				UUID:    uuid,
				Name:    oldObj.Name,
				Type:    oldObj.Type,
				Kind:    types.KindRemoved,
				Old:     oldObj,
				Summary: fmt.Sprintf("%s '%s' removed", oldObj.Type, oldObj.Name),
			})
			continue
		}

		// Unknown objects carry no comparable structure; they take part
		// only in the uuid set difference.
		if oldObj.Type == types.TypeUnknown && newObj.Type == types.TypeUnknown {
			continue
		}

		// Present in both but newly marked deprecated: gone in spirit,
		// retained distinctly for classification.
		if newObj.Deprecated && !oldObj.Deprecated {
			records = append(records, types.DeltaRecord{
				UUID:    uuid,
				Name:    newObj.Name,
				Type:    newObj.Type,
				Kind:    types.KindDeprecated,
				Old:     oldObj,
				New:     newObj,
				Summary: fmt.Sprintf("%s '%s' deprecated", newObj.Type, newObj.Name),
			})
			continue
		}

		switch res := ComparePair(oldObj, newObj); res.Outcome {
		case Unchanged:
			// Not emitted.
		case UnchangedNewVUUID, Modified:
			summary := fmt.Sprintf("%s '%s' modified", newObj.Type, newObj.Name)
			if res.Outcome == UnchangedNewVUUID {
				summary = fmt.Sprintf("%s '%s' re-saved with identical content", newObj.Type, newObj.Name)
			}
			records = append(records, types.DeltaRecord{
				UUID:    uuid,
				Name:    newObj.Name,
				Type:    newObj.Type,
				Kind:    types.KindModified,
				Old:     oldObj,
				New:     newObj,
				Summary: summary,
			})
		}
	}

	for uuid, newObj := range new {
		if _, inOld := old[uuid]; inOld {
			continue
		}
		records = append(records, types.DeltaRecord{
			UUID:    uuid,
			Name:    newObj.Name,
			Type:    newObj.Type,
			Kind:    types.KindNew,
			New:     newObj,
			Summary: fmt.Sprintf("%s '%s' added", newObj.Type, newObj.Name),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Type != records[j].Type {
			return records[i].Type < records[j].Type
		}
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].UUID < records[j].UUID
	})

	logger.Debug("Delta computed",
		zap.Int("old_objects", len(old)),
		zap.Int("new_objects", len(new)),
		zap.Int("differences", len(records)))

	return records
}
