package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"appmerge/internal/types"
)

// changeSpec drives the generated change sets for the filter properties.
type changeSpec struct {
	Name   string
	Cls    types.Classification
	Status types.ReviewStatus
}

var classifications = []types.Classification{
	types.ClassNoConflict, types.ClassConflict, types.ClassNew, types.ClassDeleted,
}

var statuses = []types.ReviewStatus{
	types.StatusPending, types.StatusReviewed, types.StatusSkipped,
}

func genChangeSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.IntRange(0, len(classifications)-1),
		gen.IntRange(0, len(statuses)-1),
	).Map(func(vals []interface{}) changeSpec {
		return changeSpec{
			Name:   vals[0].(string),
			Cls:    classifications[vals[1].(int)],
			Status: statuses[vals[2].(int)],
		}
	})
}

// seedSession persists one generated change set and applies the review
// statuses. Every change is queued so review actions are accepted.
func seedSession(s *Store, specs []changeSpec) (int64, error) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx)
	if err != nil {
		return 0, err
	}

	objects := make(types.Lookup, len(specs))
	changes := make([]types.Change, 0, len(specs))
	for i, spec := range specs {
		uuid := fmt.Sprintf("u-%d-%03d", sess.ID, i)
		objects[uuid] = &types.ParsedObject{
			UUID: uuid, Name: spec.Name, Type: types.TypeConstant,
			VersionUUID: "v-" + uuid,
		}
		idx := i
		changes = append(changes, types.Change{
			UUID: uuid, Name: spec.Name, Type: types.TypeConstant,
			Classification: spec.Cls, VendorKind: types.KindModified,
			ReviewStatus: types.StatusPending, OrderIndex: &idx,
		})
	}

	payload := &AnalysisPayload{
		Packages: []PackagePayload{
			{Role: types.RoleBase, FileName: "base.zip", Objects: objects},
			{Role: types.RoleCustomized, FileName: "cust.zip", Objects: types.Lookup{}},
			{Role: types.RoleNewVendor, FileName: "vendor.zip", Objects: types.Lookup{}},
		},
		Changes: changes,
	}
	if err := s.SaveAnalysis(ctx, sess.ID, payload); err != nil {
		return 0, err
	}

	for i, spec := range specs {
		if spec.Status == types.StatusPending {
			continue
		}
		uuid := fmt.Sprintf("u-%d-%03d", sess.ID, i)
		if err := s.UpdateReviewStatus(ctx, sess.ID, uuid, spec.Status); err != nil {
			return 0, err
		}
	}
	return sess.ID, nil
}

// isSubsequence checks that filtered preserves the relative order of full.
func isSubsequence(filtered, full []ChangeRow) bool {
	j := 0
	for _, row := range filtered {
		found := false
		for ; j < len(full); j++ {
			if full[j].ID == row.ID {
				found = true
				j++
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestListChanges_FilterProperties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("classification filter returns exactly the matching rows in queue order",
		prop.ForAll(func(specs []changeSpec) bool {
			sessionID, err := seedSession(s, specs)
			if err != nil {
				t.Logf("Seed failed: %v", err)
				return false
			}
			full, err := s.ListChanges(ctx, sessionID, ChangeFilter{})
			if err != nil {
				return false
			}

			for _, cls := range classifications {
				filtered, err := s.ListChanges(ctx, sessionID, ChangeFilter{
					Classifications: []types.Classification{cls},
				})
				if err != nil {
					return false
				}
				want := 0
				for _, spec := range specs {
					if spec.Cls == cls {
						want++
					}
				}
				if len(filtered) != want {
					return false
				}
				for _, row := range filtered {
					if row.Classification != cls {
						return false
					}
				}
				if !isSubsequence(filtered, full) {
					return false
				}
			}
			return true
		}, gen.SliceOf(genChangeSpec())))

	properties.Property("status filter matches the applied review statuses",
		prop.ForAll(func(specs []changeSpec) bool {
			sessionID, err := seedSession(s, specs)
			if err != nil {
				return false
			}
			for _, status := range statuses {
				filtered, err := s.ListChanges(ctx, sessionID, ChangeFilter{
					Statuses: []types.ReviewStatus{status},
				})
				if err != nil {
					return false
				}
				want := 0
				for _, spec := range specs {
					if spec.Status == status {
						want++
					}
				}
				if len(filtered) != want {
					return false
				}
				for _, row := range filtered {
					if row.ReviewStatus != status {
						return false
					}
				}
			}
			return true
		}, gen.SliceOf(genChangeSpec())))

	properties.Property("name search is case-insensitive and order-preserving",
		prop.ForAll(func(specs []changeSpec) bool {
			if len(specs) == 0 {
				return true
			}
			sessionID, err := seedSession(s, specs)
			if err != nil {
				return false
			}
			full, err := s.ListChanges(ctx, sessionID, ChangeFilter{})
			if err != nil {
				return false
			}

			needle := specs[0].Name
			if len(needle) > 3 {
				needle = needle[1:3]
			}
			lower, err := s.ListChanges(ctx, sessionID, ChangeFilter{NameSearch: needle})
			if err != nil {
				return false
			}
			upper, err := s.ListChanges(ctx, sessionID, ChangeFilter{NameSearch: upperASCII(needle)})
			if err != nil {
				return false
			}
			if len(lower) != len(upper) {
				return false
			}
			if len(lower) == 0 {
				return false // the needle came from a stored name
			}
			return isSubsequence(lower, full)
		}, gen.SliceOf(genChangeSpec())))

	properties.TestingRun(t)
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
