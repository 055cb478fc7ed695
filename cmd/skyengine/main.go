package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/internal/config"
	"github.com/signalsfoundry/sky-engine/internal/control"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/internal/observability"
	"github.com/signalsfoundry/sky-engine/internal/termview"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
	"github.com/signalsfoundry/sky-engine/modules/constellations"
	"github.com/signalsfoundry/sky-engine/modules/satellites"
	"github.com/signalsfoundry/sky-engine/modules/stars"
	"github.com/signalsfoundry/sky-engine/photometry"
	"github.com/signalsfoundry/sky-engine/timectrl"
)

const statusEvery = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file (default $SKYENGINE_CONFIG or ~/.config/skyengine/config.toml)")
	view := flag.String("view", "", "Override the view mode: headless or term")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	if *view != "" {
		cfg.Window.View = *view
		if err := cfg.Validate(); err != nil {
			log.Error(ctx, "invalid view", logging.Err(err))
			os.Exit(1)
		}
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var screen tcell.Screen
	if cfg.Window.View == config.ViewTerm {
		screen, err = newScreen()
		if err != nil {
			log.Error(ctx, "failed to open terminal", logging.Err(err))
			os.Exit(1)
		}
	}

	runLog := log
	if screen != nil {
		// Log lines would corrupt the terminal view.
		runLog = logging.Noop()
	}
	err = run(stopCtx, cfg, runLog, prometheus.DefaultRegisterer, screen, nil)
	if screen != nil {
		screen.Fini()
	}
	if err != nil {
		log.Error(ctx, "skyengine exited", logging.Err(err))
		os.Exit(1)
	}
}

func newScreen() (tcell.Screen, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.EnableMouse()
	screen.Clear()
	return screen, nil
}

// app is the engine plus its modules. Its core is owned by the frame
// goroutine once the loop starts.
type app struct {
	c         *core.Core
	stars     *stars.Module
	term      *termview.Renderer
	input     *termview.Input
	events    chan tcell.Event
	pixScale  float64
	winW      float64
	winH      float64
	lastState time.Time
}

func newApp(cfg config.Config, log logging.Logger, metrics core.MetricsRecorder, screen tcell.Screen) (*app, error) {
	start, err := cfg.Observer.StartTime(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	a := &app{pixScale: cfg.Window.PixelScale, winW: cfg.Window.Width, winH: cfg.Window.Height}

	params := photometry.DefaultParams()
	params.BortleIndex = cfg.Photometry.Bortle
	params.DisplayLimitMag = cfg.Photometry.DisplayLimit

	deg := math.Pi / 180
	obs := model.NewObserver(cfg.Observer.Latitude*deg, cfg.Observer.Longitude*deg,
		cfg.Observer.Elevation, timectrl.TTFromTime(start))
	opts := []core.Option{
		core.WithLogger(log),
		core.WithMetrics(metrics),
		core.WithParams(params),
		core.WithObserver(obs),
	}
	if screen != nil {
		a.term = termview.NewRenderer(screen, cfg.Window.CellWidth, cfg.Window.CellHeight)
		a.input = termview.NewInput(a.term)
		a.winW, a.winH = a.term.WindowSize()
		opts = append(opts, core.WithRenderer(a.term))
	}

	c, err := core.Init(a.winW, a.winH, a.pixScale, opts...)
	if err != nil {
		return nil, err
	}
	a.c = c

	a.stars = stars.New(log, stars.OpenCatalog)
	mods := []struct {
		id  string
		obj kb.Object
	}{
		{"stars", a.stars},
		{"constellations", constellations.New(log)},
		{"satellites", satellites.New(log)},
	}
	for _, m := range mods {
		if _, err := c.AddModule(m.id, m.obj); err != nil {
			a.close()
			return nil, fmt.Errorf("add module %s: %w", m.id, err)
		}
	}

	sources := []struct {
		module, url, typ string
	}{
		{"stars", cfg.Data.Stars, stars.SourceType},
		{"constellations", cfg.Data.Constellations, constellations.SourceType},
		{"satellites", cfg.Data.TLE, satellites.SourceType},
	}
	for _, s := range sources {
		if s.url == "" {
			continue
		}
		if err := c.AddDataSource(c.GetModule(s.module), s.url, s.typ, nil); err != nil {
			a.close()
			return nil, fmt.Errorf("add %s data source %q: %w", s.module, s.url, err)
		}
		log.Info(context.Background(), "added data source",
			logging.String("module", s.module),
			logging.String("url", s.url),
		)
	}
	return a, nil
}

// frame runs one engine frame. It returns false when the terminal view
// asked to quit.
func (a *app) frame(ctx context.Context, log logging.Logger, dt time.Duration) bool {
	keep := true
	if a.input != nil {
		a.input.Release(a.c)
	drain:
		for {
			select {
			case ev := <-a.events:
				if !a.input.HandleEvent(a.c, ev) {
					keep = false
				}
			default:
				break drain
			}
		}
		a.winW, a.winH = a.term.WindowSize()
	}

	if err := a.c.Update(dt.Seconds()); err != nil {
		log.Warn(ctx, "frame update", logging.Err(err))
	}
	if err := a.c.Render(a.winW, a.winH, a.pixScale); err != nil {
		log.Warn(ctx, "frame render", logging.Err(err))
	}

	if now := time.Now(); now.Sub(a.lastState) >= statusEvery {
		a.lastState = now
		log.Debug(ctx, "frame",
			logging.Uint64("frame", a.c.Frame()),
			logging.Float64("fov_deg", a.c.FOV()*180/math.Pi),
			logging.Float64("lwmax", a.c.Photometry().Lwmax()),
			logging.String("time", a.c.Observer().Time().Format(time.RFC3339)),
		)
	}
	return keep
}

func (a *app) close() {
	if a.stars != nil {
		_ = a.stars.Close()
	}
	if a.c != nil {
		a.c.Release()
	}
}

// run starts the engine, the control server and the metrics endpoint, and
// drives frames until ctx is done, the configured duration elapses or the
// terminal view quits. When lis is nil the control server listens on the
// configured address, if any.
func run(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer, screen tcell.Screen, lis net.Listener) error {
	frameMetrics, err := observability.NewFrameCollector(reg)
	if err != nil {
		return fmt.Errorf("frame metrics: %w", err)
	}
	controlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return fmt.Errorf("control metrics: %w", err)
	}

	a, err := newApp(cfg, log, frameMetrics, screen)
	if err != nil {
		return err
	}
	defer a.close()

	mb := control.NewMailbox(0)
	mb.Install(a.c)
	defer mb.Close()

	metricsSrv := serveMetrics(cfg.Control.MetricsAddr, frameMetrics.Handler(), log)

	var grpcSrv interface{ GracefulStop() }
	if lis == nil && cfg.Control.Addr != "" {
		lis, err = net.Listen("tcp", cfg.Control.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Control.Addr, err)
		}
	}
	if lis != nil {
		srv := control.NewGRPCServer(control.NewServer(mb, log), log, controlMetrics)
		grpcSrv = srv
		log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
		go func() {
			if err := srv.Serve(lis); err != nil {
				log.Error(ctx, "gRPC server exited", logging.Err(err))
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if screen != nil {
		a.events = make(chan tcell.Event, 64)
		go pollEvents(loopCtx, screen, a.events)
	}

	mode := timectrl.RealTime
	if cfg.Frame.Accelerated {
		mode = timectrl.Accelerated
	}
	start, _ := cfg.Observer.StartTime(time.Now().UTC())
	tc := timectrl.NewTimeController(start, cfg.Frame.Tick, mode)
	tc.AddListener(func(_ time.Time, dt time.Duration) {
		if !a.frame(loopCtx, log, dt) {
			cancel()
		}
	})

	log.Info(ctx, "starting frame loop",
		logging.String("mode", mode.String()),
		logging.String("tick", cfg.Frame.Tick.String()),
		logging.String("view", cfg.Window.View),
	)
	<-tc.Start(loopCtx, cfg.Frame.Duration)
	log.Info(ctx, "frame loop stopped", logging.Uint64("frames", tc.Frames()))

	// Nothing drains the mailbox any more; fail pending requests so the
	// graceful stop does not wait on them.
	mb.Close()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func pollEvents(ctx context.Context, screen tcell.Screen, out chan<- tcell.Event) {
	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" || handler == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
