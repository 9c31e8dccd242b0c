// Package review assigns the review-queue order to classified changes:
// safe vendor adoptions first, then conflicts in dependency order, then
// new objects, then deletions. Customer-only changes are persisted but
// never enter the queue.
package review

import (
	"sort"

	"go.uber.org/zap"

	"appmerge/internal/depgraph"
	"appmerge/internal/types"
)

// Order assigns dense order indices (0..N-1) in place across the four
// tiers. Changes outside the queue keep a nil OrderIndex.
func Order(changes []types.Change, graph *depgraph.Graph, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	byUUID := make(map[string]int, len(changes))
	for i := range changes {
		changes[i].OrderIndex = nil
		byUUID[changes[i].UUID] = i
	}

	next := 0
	assign := func(uuid string) {
		i := byUUID[uuid]
		idx := next
		changes[i].OrderIndex = &idx
		next++
	}

	// Tier 1: NO_CONFLICT sourced from the vendor delta. Customer-only
	// rows (vendor kind empty) stay out of the queue.
	for _, uuid := range groupSorted(changes, func(c types.Change) bool {
		return c.Classification == types.ClassNoConflict && c.VendorKind != ""
	}) {
		assign(uuid)
	}

	// Tier 2: CONFLICT in dependency order, parents before children.
	var conflicts []string
	for _, c := range changes {
		if c.Classification == types.ClassConflict {
			conflicts = append(conflicts, c.UUID)
		}
	}
	for _, uuid := range graph.TopoSort(conflicts) {
		assign(uuid)
	}

	// Tier 3: NEW.
	for _, uuid := range groupSorted(changes, func(c types.Change) bool {
		return c.Classification == types.ClassNew
	}) {
		assign(uuid)
	}

	// Tier 4: DELETED.
	for _, uuid := range groupSorted(changes, func(c types.Change) bool {
		return c.Classification == types.ClassDeleted
	}) {
		assign(uuid)
	}

	logger.Debug("Review order assigned",
		zap.Int("queued", next),
		zap.Int("excluded", len(changes)-next))
}

// groupSorted selects matching changes ordered by object type, then name,
// then uuid for stability.
func groupSorted(changes []types.Change, match func(types.Change) bool) []string {
	var picked []types.Change
	for _, c := range changes {
		if match(c) {
			picked = append(picked, c)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Type != picked[j].Type {
			return picked[i].Type < picked[j].Type
		}
		if picked[i].Name != picked[j].Name {
			return picked[i].Name < picked[j].Name
		}
		return picked[i].UUID < picked[j].UUID
	})

	uuids := make([]string, len(picked))
	for i, c := range picked {
		uuids[i] = c.UUID
	}
	return uuids
}
