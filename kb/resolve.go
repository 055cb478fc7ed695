package kb

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Resolve flags.
const (
	// ResolveModulesOnly restricts resolution to dotted module paths.
	ResolveModulesOnly = 1 << iota
)

// RootID is the id of the conventional top-level module. Paths may omit it.
const RootID = "core"

// normalize folds a name or designation for index lookup: compatibility
// decomposition, combining marks stripped, case folded, whitespace collapsed.
func normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Resolve finds an entity inside scope (the zero Handle for everything). The
// query is tried, in order, as a catalog identifier, a dotted module path
// and a display name. At each stage a single candidate wins; an ambiguous
// stage falls through to the next one.
func (r *Registry) Resolve(scope Handle, query string, flags int) (Handle, error) {
	q := strings.TrimSpace(query)
	if q == "" || (!scope.IsZero() && !r.Alive(scope)) {
		return Handle{}, ErrNotFound
	}
	if flags&ResolveModulesOnly != 0 {
		if h, ok := r.resolvePath(scope, q); ok {
			return h, nil
		}
		return Handle{}, ErrNotFound
	}

	key := normalize(q)
	if h, ok := r.unique(r.designations[key], scope, ""); ok {
		return h, nil
	}
	var found []Handle
	for _, qh := range r.queriers {
		if !r.inScope(scope, qh) {
			continue
		}
		if h, ok := r.nodes[qh.idx].obj.(Querier).Query(q); ok && r.inScope(scope, h) {
			found = append(found, h)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}
	if h, ok := r.resolvePath(scope, q); ok {
		return h, nil
	}
	if h, ok := r.unique(r.names[key], scope, ""); ok {
		return h, nil
	}
	return Handle{}, ErrNotFound
}

// ResolveByOID looks an entity up by oid, optionally restricted to a class.
func (r *Registry) ResolveByOID(scope Handle, oid uint64, hint Class) (Handle, error) {
	h, ok := r.byOID[oid]
	if !ok || !r.Alive(h) || !r.matches(h, scope, hint) {
		return Handle{}, ErrNotFound
	}
	return h, nil
}

// ResolveByNSID looks an entity up by its secondary identifier. Several
// families may share an nsid value; hint selects one.
func (r *Registry) ResolveByNSID(scope Handle, nsid uint64, hint Class) (Handle, error) {
	for _, h := range r.byNSID[nsid] {
		if r.matches(h, scope, hint) {
			return h, nil
		}
	}
	return Handle{}, ErrNotFound
}

// Suggest returns up to n display names close to query, best first.
func (r *Registry) Suggest(query string, n int) []string {
	key := normalize(query)
	if key == "" || n <= 0 {
		return nil
	}
	limit := len([]rune(key))/3 + 2
	type cand struct {
		name string
		dist int
	}
	var cands []cand
	for k, name := range r.display {
		if d := levenshtein.ComputeDistance(key, k); d <= limit {
			cands = append(cands, cand{name: name, dist: d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

func (r *Registry) resolvePath(scope Handle, q string) (Handle, bool) {
	parts := strings.Split(q, ".")
	for _, p := range parts {
		if p == "" {
			return Handle{}, false
		}
	}
	starts := []Handle{scope}
	if scope.IsZero() {
		starts = r.roots
	}
	for _, start := range starts {
		rest := parts
		if n, ok := r.lookup(start); ok && n.meta.ID == parts[0] {
			rest = parts[1:]
		}
		if h, ok := r.walk(start, rest); ok {
			return h, true
		}
	}
	return Handle{}, false
}

func (r *Registry) walk(from Handle, parts []string) (Handle, bool) {
	h := from
	for _, p := range parts {
		next, ok := r.ChildByID(h, p)
		if !ok {
			return Handle{}, false
		}
		h = next
	}
	return h, true
}

func (r *Registry) unique(list []Handle, scope Handle, hint Class) (Handle, bool) {
	var found Handle
	count := 0
	for _, h := range list {
		if r.matches(h, scope, hint) {
			found = h
			count++
		}
	}
	return found, count == 1
}

func (r *Registry) matches(h, scope Handle, hint Class) bool {
	n, ok := r.lookup(h)
	if !ok {
		return false
	}
	if hint != "" && n.obj.Class() != hint {
		return false
	}
	return r.inScope(scope, h)
}

// inScope reports whether h is scope or one of its descendants.
func (r *Registry) inScope(scope, h Handle) bool {
	if scope.IsZero() {
		return true
	}
	for {
		if h == scope {
			return true
		}
		p, ok := r.Parent(h)
		if !ok {
			return false
		}
		h = p
	}
}
