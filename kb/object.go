package kb

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/model"
)

// Class tags an entity with its type family. It is used to filter traversal
// and listing; behaviour is selected through the capability interfaces.
type Class string

// ClassModule tags generic container modules.
const ClassModule Class = "module"

// Object is the behaviour carried by a registry entity.
type Object interface {
	Class() Class
}

// Module is implemented by entities that can hold children and take part in
// module iteration.
type Module interface {
	Object
	// RenderOrder sequences drawing among sibling modules; lower first.
	RenderOrder() float64
}

// Observation is the instantaneous appearance of an entity for an observer.
type Observation struct {
	Dir    geom.Vec3 // unit vector, observed frame
	Vmag   float64   // visual magnitude
	Radius float64   // apparent angular radius, radians; 0 for points
}

// Observable entities have a position and magnitude for a given observer.
type Observable interface {
	Observe(obs *model.Observer) (Observation, bool)
}

// Lister is implemented by modules with their own listing strategy.
// Implementations return nil, ErrUnsupported or ErrAgain and must not block.
type Lister interface {
	List(obs *model.Observer, maxMag float64, hint Class, visit func(Handle) bool) error
}

// Loader is implemented by modules whose data arrives in the background.
// Loading reports whether more entities may still appear.
type Loader interface {
	Loading() bool
}

// DataSourceAcceptor is implemented by modules that load external data.
// Implementations return ErrRejected for source types they do not handle.
type DataSourceAcceptor interface {
	AddDataSource(url, typ string, args json.RawMessage) error
}

// Querier resolves module specific catalog identifiers.
type Querier interface {
	Query(id string) (Handle, bool)
}

// Attributer exposes named attributes for generic get/set.
type Attributer interface {
	Attr(name string) (any, bool)
	SetAttr(name string, value any) error
	AttrNames() []string
}

// Binder is called once when an object is registered, with its own handle.
type Binder interface {
	Bind(r *Registry, self Handle)
}

// Meta holds the identity of an entity.
type Meta struct {
	// ID is the path segment used for dotted module paths.
	ID string
	// OID is the primary identifier, unique among live entities (0: none).
	OID uint64
	// NSID is an optional secondary identifier (0: none).
	NSID uint64
	// Designations are catalog identifiers such as "HIP 11767".
	Designations []string
	// Names are display names such as "Polaris".
	Names []string
}

// BaseModule can be embedded to provide a fixed render order.
type BaseModule struct {
	Order float64
}

// RenderOrder implements Module.
func (b BaseModule) RenderOrder() float64 { return b.Order }

// SubModule is a plain module with free-form attributes, used to give a
// module named sub parts (e.g. "constellations.lines") without a dedicated
// type.
type SubModule struct {
	BaseModule
	attrs map[string]any
}

// NewSubModule returns an empty sub module.
func NewSubModule(order float64) *SubModule {
	return &SubModule{BaseModule: BaseModule{Order: order}, attrs: map[string]any{}}
}

// Class implements Object.
func (s *SubModule) Class() Class { return ClassModule }

// Attr implements Attributer.
func (s *SubModule) Attr(name string) (any, bool) {
	v, ok := s.attrs[name]
	return v, ok
}

// SetAttr implements Attributer. Any attribute name is accepted.
func (s *SubModule) SetAttr(name string, value any) error {
	if name == "" {
		return fmt.Errorf("empty attribute name")
	}
	s.attrs[name] = value
	return nil
}

// AttrNames implements Attributer.
func (s *SubModule) AttrNames() []string {
	names := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Bool reads a boolean attribute, returning def when unset or not a bool.
func (s *SubModule) Bool(name string, def bool) bool {
	if v, ok := s.attrs[name].(bool); ok {
		return v
	}
	return def
}
