// Package kb is the knowledge base of sky entities: an arena-backed tree of
// modules and objects addressed by generational handles, with identifier and
// name indices, the listing protocol and the attribute change bus.
//
// The registry is not safe for concurrent use. It is owned by the frame
// thread; loaders running elsewhere hand their results over through polling.
package kb

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/signalsfoundry/sky-engine/internal/logging"
)

const none int32 = -1

// Handle is a weak reference to a registry entity. The zero Handle refers to
// nothing, and a handle to a destroyed entity never resolves again even if
// its slot is recycled.
type Handle struct {
	idx uint32
	gen uint32
}

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d#%d", h.idx, h.gen)
}

type node struct {
	gen  uint32
	live bool
	obj  Object
	meta Meta

	parent, first, last, next, prev int32
}

// Registry owns every entity.
type Registry struct {
	log logging.Logger

	nodes []node
	free  []int32
	roots []Handle
	count int

	byOID        map[uint64]Handle
	byNSID       map[uint64][]Handle
	designations map[string][]Handle
	names        map[string][]Handle
	display      map[string]string
	queriers     []Handle

	listener func(Handle, string)
	hooks    []func(Handle)
}

// New returns an empty registry.
func New(log logging.Logger) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	return &Registry{
		log:          log,
		byOID:        make(map[uint64]Handle),
		byNSID:       make(map[uint64][]Handle),
		designations: make(map[string][]Handle),
		names:        make(map[string][]Handle),
		display:      make(map[string]string),
	}
}

func (r *Registry) lookup(h Handle) (*node, bool) {
	if h.gen == 0 || int(h.idx) >= len(r.nodes) {
		return nil, false
	}
	n := &r.nodes[h.idx]
	if !n.live || n.gen != h.gen {
		return nil, false
	}
	return n, true
}

func (r *Registry) handleAt(i int32) Handle {
	return Handle{idx: uint32(i), gen: r.nodes[i].gen}
}

// Alive reports whether h refers to a live entity.
func (r *Registry) Alive(h Handle) bool {
	_, ok := r.lookup(h)
	return ok
}

// Len returns the number of live entities.
func (r *Registry) Len() int { return r.count }

// Get returns the object behind h.
func (r *Registry) Get(h Handle) (Object, bool) {
	n, ok := r.lookup(h)
	if !ok {
		return nil, false
	}
	return n.obj, true
}

// MetaOf returns the identity of h.
func (r *Registry) MetaOf(h Handle) (Meta, bool) {
	n, ok := r.lookup(h)
	if !ok {
		return Meta{}, false
	}
	return n.meta, true
}

// Parent returns the parent of h, or false for roots and dead handles.
func (r *Registry) Parent(h Handle) (Handle, bool) {
	n, ok := r.lookup(h)
	if !ok || n.parent == none {
		return Handle{}, false
	}
	return r.handleAt(n.parent), true
}

// Roots returns the entities without a parent.
func (r *Registry) Roots() []Handle {
	return slices.Clone(r.roots)
}

// Path returns the dotted module path of h ("core.constellations.lines").
func (r *Registry) Path(h Handle) string {
	var parts []string
	for {
		n, ok := r.lookup(h)
		if !ok {
			break
		}
		parts = append(parts, n.meta.ID)
		if n.parent == none {
			break
		}
		h = r.handleAt(n.parent)
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

// OnRemove registers a hook called with every destroyed handle. Weak holders
// use it to drop their references eagerly.
func (r *Registry) OnRemove(fn func(Handle)) {
	r.hooks = append(r.hooks, fn)
}

// Create registers obj as a new root entity.
func (r *Registry) Create(meta Meta, obj Object) (Handle, error) {
	if obj == nil {
		return Handle{}, fmt.Errorf("create %q: nil object", meta.ID)
	}
	if meta.OID != 0 {
		if prev, ok := r.byOID[meta.OID]; ok && r.Alive(prev) {
			return Handle{}, fmt.Errorf("create %q: oid %#x: %w", meta.ID, meta.OID, ErrDuplicateOID)
		}
	}

	var idx int32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.nodes = append(r.nodes, node{})
		idx = int32(len(r.nodes) - 1)
	}
	slot := &r.nodes[idx]
	gen := slot.gen + 1
	if gen == 0 {
		gen = 1
	}
	*slot = node{
		gen:    gen,
		live:   true,
		obj:    obj,
		meta:   meta,
		parent: none,
		first:  none,
		last:   none,
		next:   none,
		prev:   none,
	}
	h := Handle{idx: uint32(idx), gen: gen}
	r.count++
	r.roots = append(r.roots, h)
	r.index(h, meta)
	if _, ok := obj.(Querier); ok {
		r.queriers = append(r.queriers, h)
	}
	if b, ok := obj.(Binder); ok {
		b.Bind(r, h)
	}
	return h, nil
}

// Add attaches child as the last child of module. The child must be a root,
// the parent a module, and the attachment must not create a cycle.
func (r *Registry) Add(module, child Handle) error {
	pn, ok := r.lookup(module)
	if !ok {
		return fmt.Errorf("add: parent %v: %w", module, ErrStale)
	}
	if _, ok := pn.obj.(Module); !ok {
		return fmt.Errorf("add: parent %q: %w", pn.meta.ID, ErrNotModule)
	}
	cn, ok := r.lookup(child)
	if !ok {
		return fmt.Errorf("add: child %v: %w", child, ErrStale)
	}
	if cn.parent != none {
		return fmt.Errorf("add %q: %w", cn.meta.ID, ErrHasParent)
	}
	for a := int32(module.idx); a != none; a = r.nodes[a].parent {
		if a == int32(child.idx) {
			return fmt.Errorf("add %q under %q: %w", cn.meta.ID, pn.meta.ID, ErrCycle)
		}
	}

	ci := int32(child.idx)
	cn.parent = int32(module.idx)
	cn.prev = pn.last
	cn.next = none
	if pn.last != none {
		r.nodes[pn.last].next = ci
	} else {
		pn.first = ci
	}
	pn.last = ci
	r.roots = slices.DeleteFunc(r.roots, func(x Handle) bool { return x == child })
	return nil
}

// AddNew creates obj and attaches it under module in one step.
func (r *Registry) AddNew(module Handle, meta Meta, obj Object) (Handle, error) {
	h, err := r.Create(meta, obj)
	if err != nil {
		return Handle{}, err
	}
	if err := r.Add(module, h); err != nil {
		r.destroy(int32(h.idx))
		return Handle{}, err
	}
	return h, nil
}

// AddSub creates a named SubModule under module, or returns the existing
// child with that id.
func (r *Registry) AddSub(module Handle, name string) (Handle, error) {
	if h, ok := r.ChildByID(module, name); ok {
		return h, nil
	}
	order := 0.0
	if o, ok := r.Get(module); ok {
		if m, ok := o.(Module); ok {
			order = m.RenderOrder()
		}
	}
	return r.AddNew(module, Meta{ID: name}, NewSubModule(order))
}

// Remove detaches child from module and destroys it with its whole subtree.
func (r *Registry) Remove(module, child Handle) error {
	cn, ok := r.lookup(child)
	if !ok {
		return fmt.Errorf("remove: %v: %w", child, ErrStale)
	}
	if !r.Alive(module) || cn.parent != int32(module.idx) {
		return fmt.Errorf("remove %q: not a child of %v: %w", cn.meta.ID, module, ErrNotFound)
	}
	r.Destroy(child)
	return nil
}

// Destroy detaches h from its parent, if any, and destroys its subtree.
func (r *Registry) Destroy(h Handle) {
	n, ok := r.lookup(h)
	if !ok {
		return
	}
	i := int32(h.idx)
	id := n.meta.ID
	if n.parent != none {
		p := &r.nodes[n.parent]
		if n.prev != none {
			r.nodes[n.prev].next = n.next
		} else {
			p.first = n.next
		}
		if n.next != none {
			r.nodes[n.next].prev = n.prev
		} else {
			p.last = n.prev
		}
		n.parent, n.next, n.prev = none, none, none
	} else {
		r.roots = slices.DeleteFunc(r.roots, func(x Handle) bool { return x == h })
	}
	destroyed := r.destroy(i)
	r.log.Debug(context.Background(), "entity destroyed",
		logging.String("id", id),
		logging.Int("subtree", destroyed),
	)
}

// destroy frees i and its descendants, children first, and returns the
// number of entities released.
func (r *Registry) destroy(i int32) int {
	count := 0
	for c := r.nodes[i].first; c != none; {
		next := r.nodes[c].next
		count += r.destroy(c)
		c = next
	}
	n := &r.nodes[i]
	h := Handle{idx: uint32(i), gen: n.gen}
	r.unindex(h, n.meta)
	if n.parent == none {
		r.roots = slices.DeleteFunc(r.roots, func(x Handle) bool { return x == h })
	}
	if _, ok := n.obj.(Querier); ok {
		r.queriers = slices.DeleteFunc(r.queriers, func(x Handle) bool { return x == h })
	}
	n.live = false
	n.obj = nil
	n.meta = Meta{}
	n.parent, n.first, n.last, n.next, n.prev = none, none, none, none, none
	r.free = append(r.free, i)
	r.count--
	for _, hook := range r.hooks {
		hook(h)
	}
	return count + 1
}

// Children iterates the children of h in sibling order, optionally filtered
// by class. The yielded child may be removed during iteration.
func (r *Registry) Children(h Handle, class Class) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		n, ok := r.lookup(h)
		if !ok {
			return
		}
		parent := int32(h.idx)
		child := func(i int32, gen uint32) bool {
			c := &r.nodes[i]
			return c.live && c.gen == gen && c.parent == parent
		}
		for i := n.first; i != none; {
			c := r.nodes[i]
			gen := c.gen
			next := c.next
			var nextGen uint32
			if next != none {
				nextGen = r.nodes[next].gen
			}
			if class == "" || c.obj.Class() == class {
				if !yield(Handle{idx: uint32(i), gen: gen}) {
					return
				}
			}
			switch {
			case child(i, gen):
				// Still attached: follow its current sibling link.
				i = r.nodes[i].next
			case next != none && child(next, nextGen):
				i = next
			default:
				return
			}
		}
	}
}

// ChildByID returns the child of h with the given path id.
func (r *Registry) ChildByID(h Handle, id string) (Handle, bool) {
	for c := range r.Children(h, "") {
		if r.nodes[c.idx].meta.ID == id {
			return c, true
		}
	}
	return Handle{}, false
}

// Modules returns the module children of parent sorted by render order.
// Ties keep sibling order.
func (r *Registry) Modules(parent Handle) []Handle {
	type entry struct {
		h     Handle
		order float64
	}
	var entries []entry
	for c := range r.Children(parent, "") {
		if m, ok := r.nodes[c.idx].obj.(Module); ok {
			entries = append(entries, entry{h: c, order: m.RenderOrder()})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]Handle, len(entries))
	for i, e := range entries {
		out[i] = e.h
	}
	return out
}

func (r *Registry) index(h Handle, meta Meta) {
	if meta.OID != 0 {
		r.byOID[meta.OID] = h
	}
	if meta.NSID != 0 {
		r.byNSID[meta.NSID] = append(r.byNSID[meta.NSID], h)
	}
	for _, d := range meta.Designations {
		if key := normalize(d); key != "" {
			r.designations[key] = append(r.designations[key], h)
		}
	}
	for _, name := range meta.Names {
		if key := normalize(name); key != "" {
			r.names[key] = append(r.names[key], h)
			if _, ok := r.display[key]; !ok {
				r.display[key] = name
			}
		}
	}
}

func (r *Registry) unindex(h Handle, meta Meta) {
	if meta.OID != 0 && r.byOID[meta.OID] == h {
		delete(r.byOID, meta.OID)
	}
	if meta.NSID != 0 {
		r.byNSID[meta.NSID] = dropHandle(r.byNSID[meta.NSID], h)
		if len(r.byNSID[meta.NSID]) == 0 {
			delete(r.byNSID, meta.NSID)
		}
	}
	for _, d := range meta.Designations {
		key := normalize(d)
		r.designations[key] = dropHandle(r.designations[key], h)
		if len(r.designations[key]) == 0 {
			delete(r.designations, key)
		}
	}
	for _, name := range meta.Names {
		key := normalize(name)
		r.names[key] = dropHandle(r.names[key], h)
		if len(r.names[key]) == 0 {
			delete(r.names, key)
			delete(r.display, key)
		}
	}
}

func dropHandle(list []Handle, h Handle) []Handle {
	return slices.DeleteFunc(list, func(x Handle) bool { return x == h })
}
