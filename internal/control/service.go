// Package control is the remote control surface of the engine: a gRPC
// service whose requests are marshalled onto the frame thread through a
// Mailbox. Messages are google.protobuf.Struct values, so the service needs
// no generated code.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
	"github.com/signalsfoundry/sky-engine/timectrl"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "skyengine.control.v1.Control"

const deg = math.Pi / 180

// ControlServer is the control service API.
type ControlServer interface {
	LookAt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Zoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetTime(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AddDataSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAttr(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetAttr(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type method func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				out, err := call(srv.(ControlServer), ctx, req.(*structpb.Struct))
				if err != nil {
					return nil, ToStatusError(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("LookAt", ControlServer.LookAt),
		unary("Zoom", ControlServer.Zoom),
		unary("SetTime", ControlServer.SetTime),
		unary("Resolve", ControlServer.Resolve),
		unary("Select", ControlServer.Select),
		unary("AddDataSource", ControlServer.AddDataSource),
		unary("GetAttr", ControlServer.GetAttr),
		unary("SetAttr", ControlServer.SetAttr),
		unary("Status", ControlServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "skyengine/control/v1/control.proto",
}

// Server implements ControlServer on top of a Mailbox.
type Server struct {
	mb  *Mailbox
	log logging.Logger
}

// NewServer returns a control server submitting its work to mb.
func NewServer(mb *Mailbox, log logging.Logger) *Server {
	return &Server{mb: mb, log: logging.ForComponent(log, "control")}
}

// Register attaches the service to s.
func (s *Server) Register(g grpc.ServiceRegistrar) {
	g.RegisterService(&ServiceDesc, s)
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// run executes fn on the frame thread and converts its result.
func (s *Server) run(ctx context.Context, op string, fn func(c *core.Core) (map[string]any, error)) (*structpb.Struct, error) {
	ctx, span := startFrameSpan(ctx, op)
	defer span.End()
	out, err := Do(ctx, s.mb, fn)
	if err != nil {
		span.RecordError(err)
		s.logger(ctx).Debug(ctx, "control request failed", logging.String("op", op), logging.Err(err))
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", op, err)
	}
	return resp, nil
}

// LookAt points the view at a target ("target"), equatorial coordinates
// ("ra", "dec") or horizontal coordinates ("alt", "az"), all in degrees.
// Targets are locked unless "lock" is false.
func (s *Server) LookAt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	dur := number(args, "duration", 0)
	if dur < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidArgument)
	}
	target, hasTarget := args["target"].(string)
	ra, hasRA := args["ra"].(float64)
	dec, hasDec := args["dec"].(float64)
	alt, hasAlt := args["alt"].(float64)
	az, hasAz := args["az"].(float64)
	switch {
	case hasTarget && target != "":
	case hasRA && hasDec:
	case hasAlt && hasAz:
	default:
		return nil, fmt.Errorf("%w: lookat needs target, ra/dec or alt/az", ErrInvalidArgument)
	}
	lock := boolean(args, "lock", true)

	return s.run(ctx, "lookat", func(c *core.Core) (map[string]any, error) {
		var dir geom.Vec3
		switch {
		case hasTarget && target != "":
			h := c.Resolve(kb.Handle{}, target, 0)
			if h.IsZero() {
				return nil, fmt.Errorf("target %q: %w", target, kb.ErrNotFound)
			}
			if lock {
				if err := c.PointAndLock(h, dur); err != nil {
					return nil, err
				}
				return map[string]any{"path": c.Registry().Path(h), "locked": true}, nil
			}
			ob, ok := observe(c, h)
			if !ok {
				return nil, fmt.Errorf("target %q has no position: %w", target, kb.ErrUnsupported)
			}
			dir = ob.Dir
		case hasRA && hasDec:
			dir = c.Observer().EquatorialToObserved(geom.FromSpherical(ra*deg, dec*deg))
		default:
			dir = model.FromAltAz(alt*deg, az*deg)
		}
		c.Unlock()
		c.LookAt(dir, dur)
		viewAlt, viewAz := model.AltAz(dir)
		return map[string]any{"alt": viewAlt / deg, "az": viewAz / deg, "locked": false}, nil
	})
}

// Zoom animates the field of view to "fov" degrees.
func (s *Server) Zoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	fov := number(args, "fov", 0)
	dur := number(args, "duration", 0)
	if fov <= 0 || dur < 0 {
		return nil, fmt.Errorf("%w: zoom needs a positive fov", ErrInvalidArgument)
	}
	return s.run(ctx, "zoom", func(c *core.Core) (map[string]any, error) {
		c.ZoomTo(fov*deg, dur)
		return map[string]any{"fov": fov}, nil
	})
}

// SetTime animates the observer time to "tt" (MJD) or "utc" (RFC 3339) and
// optionally sets "speed", the time rate.
func (s *Server) SetTime(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	dur := number(args, "duration", 0)
	if dur < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidArgument)
	}
	tt, hasTT := args["tt"].(float64)
	if utc, ok := args["utc"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, utc)
		if err != nil {
			return nil, fmt.Errorf("%w: utc: %v", ErrInvalidArgument, err)
		}
		tt, hasTT = timectrl.TTFromTime(t), true
	}
	speed, hasSpeed := args["speed"].(float64)
	if !hasTT && !hasSpeed {
		return nil, fmt.Errorf("%w: settime needs tt, utc or speed", ErrInvalidArgument)
	}
	return s.run(ctx, "settime", func(c *core.Core) (map[string]any, error) {
		if hasSpeed {
			if err := c.SetAttr("time_speed", speed); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
		}
		if hasTT {
			c.SetTime(tt, dur)
		}
		return map[string]any{"tt": c.Observer().TT}, nil
	})
}

// Resolve looks "query" up, optionally within the "module" path.
func (s *Server) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	module, _ := args["module"].(string)
	return s.run(ctx, "resolve", func(c *core.Core) (map[string]any, error) {
		scope, err := moduleHandle(c, module)
		if err != nil {
			return nil, err
		}
		h := c.Resolve(scope, query, 0)
		if h.IsZero() {
			out := map[string]any{"found": false}
			if sug := c.Registry().Suggest(query, 3); len(sug) > 0 {
				out["suggestions"] = toAnySlice(sug)
			}
			return out, nil
		}
		return describe(c, h), nil
	})
}

// Select sets the selection to "target", or clears it when empty.
func (s *Server) Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target, _ := req.AsMap()["target"].(string)
	return s.run(ctx, "select", func(c *core.Core) (map[string]any, error) {
		if target == "" {
			c.Select(kb.Handle{})
			return map[string]any{"selection": ""}, nil
		}
		h := c.Resolve(kb.Handle{}, target, 0)
		if h.IsZero() {
			return nil, fmt.Errorf("target %q: %w", target, kb.ErrNotFound)
		}
		c.Select(h)
		return map[string]any{"selection": c.Registry().Path(h)}, nil
	})
}

// AddDataSource offers a data source ("url", "type", optional "args"
// object and "module" path) to the engine.
func (s *Server) AddDataSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	typ := fields["type"].GetStringValue()
	if typ == "" {
		return nil, fmt.Errorf("%w: data source type is required", ErrInvalidArgument)
	}
	url := fields["url"].GetStringValue()
	module := fields["module"].GetStringValue()
	var args []byte
	if st := fields["args"].GetStructValue(); st != nil {
		b, err := protojson.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("%w: args: %v", ErrInvalidArgument, err)
		}
		args = b
	}
	return s.run(ctx, "add_data_source", func(c *core.Core) (map[string]any, error) {
		scope, err := moduleHandle(c, module)
		if err != nil {
			return nil, err
		}
		if err := c.AddDataSource(scope, url, typ, args); err != nil {
			return nil, err
		}
		return map[string]any{"accepted": true}, nil
	})
}

// GetAttr reads attribute "name" of the "module" path (default "core").
func (s *Server) GetAttr(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: attribute name is required", ErrInvalidArgument)
	}
	module, _ := args["module"].(string)
	return s.run(ctx, "get_attr", func(c *core.Core) (map[string]any, error) {
		h, err := moduleHandle(c, module)
		if err != nil {
			return nil, err
		}
		if h.IsZero() {
			h = c.Root()
		}
		v, err := c.Registry().Attr(h, name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": name, "value": attrValue(c, v)}, nil
	})
}

// SetAttr writes attribute "name" of the "module" path (default "core").
func (s *Server) SetAttr(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	args := req.AsMap()
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: attribute name is required", ErrInvalidArgument)
	}
	value, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidArgument)
	}
	module, _ := args["module"].(string)
	return s.run(ctx, "set_attr", func(c *core.Core) (map[string]any, error) {
		h, err := moduleHandle(c, module)
		if err != nil {
			return nil, err
		}
		if h.IsZero() {
			h = c.Root()
		}
		if ref, ok := value.(string); ok && name == "selection" {
			sel := c.Resolve(kb.Handle{}, ref, 0)
			if sel.IsZero() && ref != "" {
				return nil, fmt.Errorf("selection %q: %w", ref, kb.ErrNotFound)
			}
			value = sel
		}
		if err := c.Registry().SetAttr(h, name, value); err != nil {
			if errors.Is(err, kb.ErrNotFound) || errors.Is(err, kb.ErrStale) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		v, _ := c.Registry().Attr(h, name)
		return map[string]any{"name": name, "value": attrValue(c, v)}, nil
	})
}

// Status reports the frame counter, view and adaptation state.
func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, "status", func(c *core.Core) (map[string]any, error) {
		obs := c.Observer()
		alt, az := model.AltAz(obs.ViewDirection())
		out := map[string]any{
			"frame":  float64(c.Frame()),
			"fov":    c.FOV() / deg,
			"tt":     obs.TT,
			"utc":    obs.Time().UTC().Format(time.RFC3339),
			"alt":    alt / deg,
			"az":     az / deg,
			"lwmax":  c.Photometry().Lwmax(),
			"tasks":  float64(c.Tasks()),
			"locked": !c.Locked().IsZero(),
		}
		if sel := c.Selection(); !sel.IsZero() {
			out["selection"] = c.Registry().Path(sel)
		}
		return out, nil
	})
}

func moduleHandle(c *core.Core, path string) (kb.Handle, error) {
	if path == "" {
		return kb.Handle{}, nil
	}
	if path == kb.RootID {
		return c.Root(), nil
	}
	h := c.Resolve(kb.Handle{}, path, kb.ResolveModulesOnly)
	if h.IsZero() {
		return kb.Handle{}, fmt.Errorf("module %q: %w", path, kb.ErrNotFound)
	}
	return h, nil
}

func observe(c *core.Core, h kb.Handle) (kb.Observation, bool) {
	obj, ok := c.Registry().Get(h)
	if !ok {
		return kb.Observation{}, false
	}
	o, ok := obj.(kb.Observable)
	if !ok {
		return kb.Observation{}, false
	}
	ob, ok := o.Observe(c.Observer())
	if !ok {
		return kb.Observation{}, false
	}
	ob.Dir = ob.Dir.Normalize()
	return ob, true
}

func describe(c *core.Core, h kb.Handle) map[string]any {
	out := map[string]any{
		"found": true,
		"path":  c.Registry().Path(h),
	}
	if obj, ok := c.Registry().Get(h); ok {
		out["class"] = string(obj.Class())
	}
	if m, ok := c.Registry().MetaOf(h); ok {
		out["id"] = m.ID
		if m.OID != 0 {
			out["oid"] = "0x" + strconv.FormatUint(m.OID, 16)
		}
		out["names"] = toAnySlice(m.Names)
		out["designations"] = toAnySlice(m.Designations)
	}
	if ob, ok := observe(c, h); ok {
		alt, az := model.AltAz(ob.Dir)
		out["alt"] = alt / deg
		out["az"] = az / deg
		if !math.IsInf(ob.Vmag, 0) && !math.IsNaN(ob.Vmag) {
			out["vmag"] = ob.Vmag
		}
	}
	return out
}

// attrValue converts an attribute value into something structpb accepts.
func attrValue(c *core.Core, v any) any {
	switch x := v.(type) {
	case kb.Handle:
		if x.IsZero() {
			return ""
		}
		return c.Registry().Path(x)
	case int:
		return float64(x)
	case nil, bool, string, float64:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func number(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func boolean(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
