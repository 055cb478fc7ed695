package kb

import "fmt"

// SetListener installs the single global attribute-change listener,
// replacing any previous one. A nil f uninstalls it.
func (r *Registry) SetListener(f func(h Handle, attr string)) {
	r.listener = f
}

// Notify reports that attr of h changed. It must be called by any code that
// mutates an attribute outside of SetAttr. The listener runs synchronously.
func (r *Registry) Notify(h Handle, attr string) {
	if r.listener == nil || !r.Alive(h) {
		return
	}
	r.listener(h, attr)
}

// Attr reads an attribute. The identity attributes "id", "oid", "nsid",
// "class" and "path" are available on every entity.
func (r *Registry) Attr(h Handle, name string) (any, error) {
	n, ok := r.lookup(h)
	if !ok {
		return nil, fmt.Errorf("attr %q: %w", name, ErrStale)
	}
	if a, ok := n.obj.(Attributer); ok {
		if v, ok := a.Attr(name); ok {
			return v, nil
		}
	}
	switch name {
	case "id":
		return n.meta.ID, nil
	case "oid":
		return n.meta.OID, nil
	case "nsid":
		return n.meta.NSID, nil
	case "class":
		return string(n.obj.Class()), nil
	case "path":
		return r.Path(h), nil
	}
	return nil, fmt.Errorf("attr %q of %q: %w", name, n.meta.ID, ErrNotFound)
}

// SetAttr writes an attribute through the entity's Attributer and notifies
// the listener on success.
func (r *Registry) SetAttr(h Handle, name string, value any) error {
	n, ok := r.lookup(h)
	if !ok {
		return fmt.Errorf("set %q: %w", name, ErrStale)
	}
	a, ok := n.obj.(Attributer)
	if !ok {
		return fmt.Errorf("set %q on %q: %w", name, n.meta.ID, ErrNotFound)
	}
	if err := a.SetAttr(name, value); err != nil {
		return fmt.Errorf("set %q on %q: %w", name, n.meta.ID, err)
	}
	r.Notify(h, name)
	return nil
}
