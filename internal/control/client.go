package control

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote control service.
type Client struct {
	conn *grpc.ClientConn
}

// DefaultClientDialOptions returns the standard dial options: plaintext
// transport, trace propagation and request ids.
func DefaultClientDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
}

// Dial creates a client for target. Extra options are applied after the
// defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, append(DefaultClientDialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// WaitReady polls the health service until the control service is serving.
func (c *Client) WaitReady(ctx context.Context) error {
	hc := healthpb.NewHealthClient(c.conn)
	for {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("control service not ready: %w", err)
			}
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Call invokes method with a request built from args.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// LookAtTarget points at a named object, locking onto it when lock is set.
func (c *Client) LookAtTarget(ctx context.Context, target string, duration float64, lock bool) (map[string]any, error) {
	return c.Call(ctx, "LookAt", map[string]any{"target": target, "duration": duration, "lock": lock})
}

// LookAtRADec points at equatorial coordinates in degrees.
func (c *Client) LookAtRADec(ctx context.Context, ra, dec, duration float64) (map[string]any, error) {
	return c.Call(ctx, "LookAt", map[string]any{"ra": ra, "dec": dec, "duration": duration})
}

// Zoom animates the field of view to fov degrees.
func (c *Client) Zoom(ctx context.Context, fov, duration float64) error {
	_, err := c.Call(ctx, "Zoom", map[string]any{"fov": fov, "duration": duration})
	return err
}

// SetTime animates the observer clock to t.
func (c *Client) SetTime(ctx context.Context, t time.Time, duration float64) error {
	_, err := c.Call(ctx, "SetTime", map[string]any{"utc": t.UTC().Format(time.RFC3339Nano), "duration": duration})
	return err
}

// SetTimeSpeed sets the clock rate, 1 being real time.
func (c *Client) SetTimeSpeed(ctx context.Context, speed float64) error {
	_, err := c.Call(ctx, "SetTime", map[string]any{"speed": speed})
	return err
}

// Resolve looks query up; the result has "found" false when nothing matched.
func (c *Client) Resolve(ctx context.Context, query string) (map[string]any, error) {
	return c.Call(ctx, "Resolve", map[string]any{"query": query})
}

// Select selects target, or clears the selection when target is empty.
func (c *Client) Select(ctx context.Context, target string) error {
	_, err := c.Call(ctx, "Select", map[string]any{"target": target})
	return err
}

// AddDataSource offers a data source to every module.
func (c *Client) AddDataSource(ctx context.Context, url, typ string, args map[string]any) error {
	req := map[string]any{"url": url, "type": typ}
	if args != nil {
		req["args"] = args
	}
	_, err := c.Call(ctx, "AddDataSource", req)
	return err
}

// GetAttr reads an attribute of a module path ("" for the core).
func (c *Client) GetAttr(ctx context.Context, module, name string) (any, error) {
	resp, err := c.Call(ctx, "GetAttr", map[string]any{"module": module, "name": name})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// SetAttr writes an attribute of a module path ("" for the core).
func (c *Client) SetAttr(ctx context.Context, module, name string, value any) error {
	_, err := c.Call(ctx, "SetAttr", map[string]any{"module": module, "name": name, "value": value})
	return err
}

// Status returns the engine status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, "Status", nil)
}
