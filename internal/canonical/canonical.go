// Package canonical produces the stable comparison view of an object and
// the content fingerprint derived from it. Lists are compared as sets by a
// stable key; only site page hierarchies keep their semantic order.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"appmerge/internal/types"
)

// View is the comparison view of one object version. Code is the formatted
// SAIL body for scripted types; Raw carries the original XML for Unknown
// objects, compared as bytes.
type View struct {
	Code       string         `json:"code,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// sortKeys names the field used to order each list payload. Lists absent
// here are ordered by their full JSON encoding; "pages" keeps parse order.
var sortKeys = map[string]string{
	"nodes":         "uuid",
	"variables":     "name",
	"fields":        "name",
	"parameters":    "name",
	"inputs":        "name",
	"relationships": "name",
	"views":         "name",
	"actions":       "name",
	"entities":      "name",
}

// Canonicalize builds the comparison view for an object.
func Canonicalize(obj *types.ParsedObject) View {
	if obj == nil {
		return View{}
	}
	if obj.Type == types.TypeUnknown {
		return View{Raw: obj.RawXML}
	}

	return View{
		Code:       obj.Code,
		Fields:     canonicalMap(obj.Fields),
		Properties: canonicalMap(obj.Properties),
	}
}

// Fingerprint hashes the canonical view: the scripted code concatenated
// with an RFC 8785 canonical JSON encoding of fields and properties. A
// mismatch is authoritative for "different", a match for "identical".
func Fingerprint(v View) string {
	h := sha256.New()
	h.Write([]byte(v.Code))
	h.Write([]byte{0})
	h.Write(canonicalJSON(v.Fields))
	h.Write([]byte{0})
	h.Write(canonicalJSON(v.Properties))
	h.Write([]byte{0})
	h.Write([]byte(v.Raw))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintObject is shorthand for Fingerprint(Canonicalize(obj)).
func FingerprintObject(obj *types.ParsedObject) string {
	return Fingerprint(Canonicalize(obj))
}

// Equal reports whether two objects have identical canonical content.
func Equal(a, b *types.ParsedObject) bool {
	return FingerprintObject(a) == FingerprintObject(b)
}

// canonicalMap deep-copies a payload map with every sortable list ordered
// by its stable key.
func canonicalMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = canonicalValue(k, v)
	}
	return out
}

func canonicalValue(key string, v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	if key == "pages" {
		// Page hierarchy is order-significant.
		return list
	}

	sorted := make([]any, len(list))
	copy(sorted, list)
	sortKey := sortKeys[key]
	sort.SliceStable(sorted, func(i, j int) bool {
		return listEntryKey(sorted[i], sortKey) < listEntryKey(sorted[j], sortKey)
	})
	return sorted
}

// listEntryKey extracts the ordering key for one list entry. Entries that
// are not maps (member uuids, method names) order by their own encoding,
// as do flows and other lists without a single key field.
func listEntryKey(entry any, sortKey string) string {
	if m, ok := entry.(map[string]any); ok && sortKey != "" {
		if kv, ok := m[sortKey].(string); ok {
			return kv
		}
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf("%v", entry)
	}
	return string(b)
}

// canonicalJSON encodes v as RFC 8785 canonical JSON so key order never
// affects the fingerprint.
func canonicalJSON(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return raw
	}
	return canon
}
