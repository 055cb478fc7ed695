package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/model"
)

// List visits the entities of module visible for obs down to maxMag,
// optionally restricted to class hint. It returns nil when the listing is
// complete, ErrUnsupported when module cannot list (or needs a hint), and
// ErrAgain when more entities may appear once pending data arrives. visit
// returning false stops the listing early without error.
func (r *Registry) List(module Handle, obs *model.Observer, maxMag float64, hint Class, visit func(Handle) bool) error {
	n, ok := r.lookup(module)
	if !ok {
		return fmt.Errorf("list: %v: %w", module, ErrStale)
	}
	if l, ok := n.obj.(Lister); ok {
		return l.List(obs, maxMag, hint, visit)
	}
	if _, ok := n.obj.(Module); !ok {
		return ErrUnsupported
	}
	for c := range r.Children(module, hint) {
		o, ok := r.nodes[c.idx].obj.(Observable)
		if !ok {
			continue
		}
		if obs != nil {
			if ob, ok := o.Observe(obs); !ok || ob.Vmag >= maxMag {
				continue
			}
		}
		if !visit(c) {
			return nil
		}
	}
	return nil
}

// Cursor pages through a module listing across frames. Every entity is
// returned at most once, even when the underlying module has to be listed
// again after ErrAgain.
type Cursor struct {
	r      *Registry
	module Handle
	maxMag float64
	hint   Class
	limit  int

	seen map[Handle]struct{}
	done bool
}

// NewCursor returns a cursor over module. A limit of zero or less means no
// batch limit.
func (r *Registry) NewCursor(module Handle, maxMag float64, hint Class, limit int) *Cursor {
	return &Cursor{
		r:      r,
		module: module,
		maxMag: maxMag,
		hint:   hint,
		limit:  limit,
		seen:   make(map[Handle]struct{}),
	}
}

// Next returns the next batch of entities not returned before. more is true
// while the listing is incomplete, either because the batch filled up or
// because the module reported ErrAgain. Listing errors other than ErrAgain
// end the cursor.
func (c *Cursor) Next(obs *model.Observer) (batch []Handle, more bool, err error) {
	if c.done {
		return nil, false, nil
	}
	full := false
	err = c.r.List(c.module, obs, c.maxMag, c.hint, func(h Handle) bool {
		if _, dup := c.seen[h]; dup {
			return true
		}
		c.seen[h] = struct{}{}
		batch = append(batch, h)
		if c.limit > 0 && len(batch) >= c.limit {
			full = true
			return false
		}
		return true
	})
	switch {
	case errors.Is(err, ErrAgain):
		return batch, true, nil
	case err != nil:
		c.done = true
		return batch, false, err
	case full:
		return batch, true, nil
	}
	c.done = true
	return batch, false, nil
}

// Done reports whether the cursor has completed.
func (c *Cursor) Done() bool { return c.done }

// Seen returns the number of entities returned so far.
func (c *Cursor) Seen() int { return len(c.seen) }

// AddDataSource offers a data source to module and its descendant modules in
// depth first order, or to every module when module is the zero Handle. The
// first module that accepts it wins. ErrRejected is returned when none does.
func (r *Registry) AddDataSource(module Handle, url, typ string, args json.RawMessage) error {
	starts := []Handle{module}
	if module.IsZero() {
		starts = r.Roots()
	} else if !r.Alive(module) {
		return fmt.Errorf("data source %q: %w", url, ErrStale)
	}
	for _, h := range starts {
		accepted, err := r.offer(h, url, typ, args)
		if err != nil || accepted {
			return err
		}
	}
	return fmt.Errorf("data source %q (type %q): %w", url, typ, ErrRejected)
}

func (r *Registry) offer(h Handle, url, typ string, args json.RawMessage) (bool, error) {
	n, ok := r.lookup(h)
	if !ok {
		return false, nil
	}
	if a, ok := n.obj.(DataSourceAcceptor); ok {
		err := a.AddDataSource(url, typ, args)
		switch {
		case err == nil:
			r.log.Info(context.Background(), "data source accepted",
				logging.String("module", r.Path(h)),
				logging.String("url", url),
				logging.String("type", typ),
			)
			return true, nil
		case !errors.Is(err, ErrRejected):
			return false, fmt.Errorf("data source %q for %q: %w", url, n.meta.ID, err)
		}
	}
	for _, c := range r.Modules(h) {
		accepted, err := r.offer(c, url, typ, args)
		if err != nil || accepted {
			return accepted, err
		}
	}
	return false, nil
}

// Loading reports whether any module in the tree under scope, or in every
// tree when scope is the zero Handle, is still loading data.
func (r *Registry) Loading(scope Handle) bool {
	if scope.IsZero() {
		for _, root := range r.Roots() {
			if r.loadingUnder(root) {
				return true
			}
		}
		return false
	}
	return r.Alive(scope) && r.loadingUnder(scope)
}

func (r *Registry) loadingUnder(h Handle) bool {
	if l, ok := r.nodes[h.idx].obj.(Loader); ok && l.Loading() {
		return true
	}
	for _, m := range r.Modules(h) {
		if r.loadingUnder(m) {
			return true
		}
	}
	return false
}
