// Package classify applies the ordered rule table over the vendor and
// customer delta sets, producing one classified change per uuid in D ∪ E.
package classify

import (
	"sort"

	"go.uber.org/zap"

	"appmerge/internal/canonical"
	"appmerge/internal/types"
)

// Classifier walks D ∪ E and assigns each object exactly one category.
// The customized and newVendor lookups feed the B-vs-C re-comparison that
// demotes identical co-edits to NO_CONFLICT.
type Classifier struct {
	customized types.Lookup
	newVendor  types.Lookup
	logger     *zap.Logger
}

// New creates a Classifier over the session's customer (B) and new-vendor
// (C) package lookups.
func New(customized, newVendor types.Lookup, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{customized: customized, newVendor: newVendor, logger: logger}
}

// Classify consumes the vendor delta D and customer delta E and emits one
// Change per uuid, ordered by (type, name) for deterministic output.
func (c *Classifier) Classify(vendorDelta, customerDelta []types.DeltaRecord) []types.Change {
	vendor := indexByUUID(vendorDelta)
	customer := indexByUUID(customerDelta)

	seen := make(map[string]bool, len(vendor)+len(customer))
	var changes []types.Change

	emit := func(uuid string) {
		if seen[uuid] {
			return
		}
		seen[uuid] = true

		d, inD := vendor[uuid]
		e, inE := customer[uuid]

		ch := types.Change{
			UUID:         uuid,
			ReviewStatus: types.StatusPending,
		}
		if inD {
			ch.Name, ch.Type, ch.VendorKind = d.Name, d.Type, d.Kind
		}
		if inE {
			ch.Name, ch.Type, ch.CustomerKind = e.Name, e.Type, e.Kind
		}
		ch.Classification = c.classify(uuid, d, inD, e, inE)
		changes = append(changes, ch)
	}

	for _, r := range vendorDelta {
		emit(r.UUID)
	}
	for _, r := range customerDelta {
		emit(r.UUID)
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changes[i].Type < changes[j].Type
		}
		if changes[i].Name != changes[j].Name {
			return changes[i].Name < changes[j].Name
		}
		return changes[i].UUID < changes[j].UUID
	})

	c.logger.Debug("Changes classified",
		zap.Int("vendor_delta", len(vendorDelta)),
		zap.Int("customer_delta", len(customerDelta)),
		zap.Int("changes", len(changes)))

	return changes
}

// classify applies the ordered rule table; first match wins.
func (c *Classifier) classify(uuid string, d types.DeltaRecord, inD bool, e types.DeltaRecord, inE bool) types.Classification {
	switch {
	// Rule 1: vendor change the customer has not touched.
	case inD && !inE:
		return types.ClassNoConflict

	// Rule 2: customer change the vendor has not touched. Persisted but
	// excluded from the review queue by the ordering stage.
	case inE && !inD:
		return types.ClassNoConflict

	// Rule 3: both sides introduced the object.
	case d.Kind == types.KindNew && e.Kind == types.KindNew:
		return types.ClassNew

	// Rule 4: both sides dropped it.
	case d.Kind.Gone() && e.Kind == types.KindRemoved:
		return types.ClassDeleted

	// Rule 5: vendor deprecated what the customer kept customizing.
	case d.Kind == types.KindDeprecated && e.Kind == types.KindModified:
		return types.ClassDeleted

	// Rule 6: vendor removed a customer-modified object.
	case d.Kind == types.KindRemoved && e.Kind == types.KindModified:
		return types.ClassConflict

	// Rule 7: customer removed a vendor-modified object.
	case d.Kind == types.KindModified && e.Kind == types.KindRemoved:
		return types.ClassConflict

	// Rule 8: both modified. Re-compare B against C; identical co-edits
	// are not conflicts.
	case d.Kind == types.KindModified && e.Kind == types.KindModified:
		if c.sameContent(uuid) {
			return types.ClassNoConflict
		}
		return types.ClassConflict

	// Rule 9: any remaining kind pairing needs a human decision.
	default:
		return types.ClassConflict
	}
}

// sameContent reports whether the customer and new-vendor versions of the
// object carry identical canonical content.
func (c *Classifier) sameContent(uuid string) bool {
	b, okB := c.customized[uuid]
	v, okC := c.newVendor[uuid]
	if !okB || !okC {
		return false
	}
	return canonical.Equal(b, v)
}

func indexByUUID(records []types.DeltaRecord) map[string]types.DeltaRecord {
	out := make(map[string]types.DeltaRecord, len(records))
	for _, r := range records {
		out[r.UUID] = r
	}
	return out
}
