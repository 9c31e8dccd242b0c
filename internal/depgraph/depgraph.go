// Package depgraph builds the object reference graph and orders changes so
// parents come before children. An edge u → v means u's canonical content
// contains a reference resolving to v.
package depgraph

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"appmerge/internal/sail"
	"appmerge/internal/types"
)

// Graph is the directed reference graph over the session lookup.
type Graph struct {
	lookup   types.Lookup
	children map[string][]string // u -> objects u references
	parents  map[string][]string // v -> objects referencing v
	logger   *zap.Logger
}

// Build scans every object's scripted code and structured fields for uuid
// references that resolve through the lookup.
func Build(lookup types.Lookup, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Graph{
		lookup:   lookup,
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		logger:   logger,
	}

	for uuid, obj := range lookup {
		seen := map[string]bool{}
		for _, ref := range sail.UUIDPattern.FindAllString(scanText(obj), -1) {
			if ref == uuid || seen[ref] {
				continue
			}
			if _, resolves := lookup[ref]; !resolves {
				continue
			}
			seen[ref] = true
			g.children[uuid] = append(g.children[uuid], ref)
			g.parents[ref] = append(g.parents[ref], uuid)
		}
	}

	for _, m := range []map[string][]string{g.children, g.parents} {
		for k := range m {
			sort.Strings(m[k])
		}
	}

	return g
}

// scanText concatenates the reference-bearing content of one object.
func scanText(obj *types.ParsedObject) string {
	text := obj.Code
	if obj.Fields != nil {
		if b, err := json.Marshal(obj.Fields); err == nil {
			text += "\n" + string(b)
		}
	}
	return text
}

// Parents returns the objects whose content references uuid.
func (g *Graph) Parents(uuid string) []string { return g.parents[uuid] }

// Children returns the objects referenced by uuid's content.
func (g *Graph) Children(uuid string) []string { return g.children[uuid] }

// TopoSort orders the given uuids so every parent precedes its children,
// considering only edges within the subset. Ties break on object type then
// display name; cycles are broken deterministically with a warning.
func (g *Graph) TopoSort(uuids []string) []string {
	inSet := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		inSet[u] = true
	}

	// Induced subgraph edges and in-degrees.
	edges := make(map[string][]string, len(uuids))
	indegree := make(map[string]int, len(uuids))
	for _, u := range uuids {
		indegree[u] += 0
		for _, v := range g.children[u] {
			if !inSet[v] {
				continue
			}
			edges[u] = append(edges[u], v)
			indegree[v]++
		}
	}

	var order []string
	remaining := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		remaining[u] = true
	}

	for len(remaining) > 0 {
		ready := make([]string, 0, len(remaining))
		for u := range remaining {
			if indegree[u] == 0 {
				ready = append(ready, u)
			}
		}

		if len(ready) == 0 {
			// Residual in-degree everywhere: a cycle. Drop the edge with
			// the lexicographically larger (source name, target name) pair
			// so test output stays stable, then continue.
			src, dst := g.maxEdge(edges, remaining)
			g.logger.Warn("Dependency cycle broken",
				zap.String("source", g.nameOf(src)),
				zap.String("target", g.nameOf(dst)))
			edges[src] = removeOne(edges[src], dst)
			indegree[dst]--
			continue
		}

		sort.Slice(ready, func(i, j int) bool {
			return g.less(ready[i], ready[j])
		})

		u := ready[0]
		order = append(order, u)
		delete(remaining, u)
		for _, v := range edges[u] {
			if remaining[v] {
				indegree[v]--
			}
		}
	}

	return order
}

// maxEdge finds the residual edge with the lexicographically largest
// (source name, target name) pair. Equal names fall back to uuids so the
// choice never depends on map iteration order.
func (g *Graph) maxEdge(edges map[string][]string, remaining map[string]bool) (string, string) {
	var bestSrc, bestDst string
	better := func(u, v string) bool {
		if bestSrc == "" {
			return true
		}
		if su, bu := g.nameOf(u), g.nameOf(bestSrc); su != bu {
			return su > bu
		}
		if sv, bv := g.nameOf(v), g.nameOf(bestDst); sv != bv {
			return sv > bv
		}
		if u != bestSrc {
			return u > bestSrc
		}
		return v > bestDst
	}
	for u := range remaining {
		for _, v := range edges[u] {
			if !remaining[v] {
				continue
			}
			if better(u, v) {
				bestSrc, bestDst = u, v
			}
		}
	}
	return bestSrc, bestDst
}

// less orders two uuids by object type, then display name, then uuid.
func (g *Graph) less(a, b string) bool {
	oa, ob := g.lookup[a], g.lookup[b]
	ta, tb := "", ""
	na, nb := "", ""
	if oa != nil {
		ta, na = string(oa.Type), oa.Name
	}
	if ob != nil {
		tb, nb = string(ob.Type), ob.Name
	}
	if ta != tb {
		return ta < tb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func (g *Graph) nameOf(uuid string) string {
	if obj := g.lookup[uuid]; obj != nil && obj.Name != "" {
		return obj.Name
	}
	return uuid
}

func removeOne(list []string, item string) []string {
	for i, v := range list {
		if v == item {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
