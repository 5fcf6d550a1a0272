// Package bootstrap assembles a server application from its configuration:
// a TCP listener fronted by a protocol router, a channel manager holding
// the accepted channels, and a tick runner driving timeout accounting for
// every channel's correlation engine.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lycerius/knet/config"
	"github.com/lycerius/knet/loop"
	"github.com/lycerius/knet/network"
	"github.com/lycerius/knet/protocol"
)

var (
	ErrAlreadyStarted = errors.New("application is already started")
	ErrNotStarted     = errors.New("application is not started")
)

// Application wires the server-side components together
type Application struct {
	cfg      *config.Config
	router   *protocol.Router
	manager  network.ChannelManager
	listener network.Listener
	runner   *loop.Runner
	services []Service
	started  int32

	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
}

// NetworkConfig maps the file configuration onto the network layer
func NetworkConfig(cfg *config.Config) *network.NetworkConfig {
	netCfg := network.DefaultNetworkConfig()

	netCfg.Address = cfg.Network.TCP.Address
	netCfg.Port = cfg.Network.TCP.Port
	netCfg.KeepAlive = cfg.Network.TCP.KeepAlive
	netCfg.KeepAliveInterval = cfg.Network.TCP.KeepAliveInterval
	netCfg.Secret = cfg.Network.TCP.Secret
	netCfg.MaxChannels = cfg.Network.Limits.MaxChannels
	netCfg.HeartbeatInterval = cfg.Network.Limits.HeartbeatInterval
	netCfg.ReadTimeout = cfg.Network.Timeouts.Read
	netCfg.WriteTimeout = cfg.Network.Timeouts.Write
	netCfg.ReconnectInterval = cfg.Network.Timeouts.Reconnect
	netCfg.CallTimeout = cfg.RPC.DefaultTimeout

	if cfg.Network.TCP.SendBuffer > 0 {
		netCfg.SendBuffer = cfg.Network.TCP.SendBuffer
	}

	return netCfg
}

// New creates an application from the given configuration
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := network.NewNetworkFactory()
	listener, err := factory.CreateListener(NetworkConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	manager := factory.CreateChannelManager()
	router := protocol.NewRouter()

	listener.SetMessageHandler(router)
	listener.SetChannelHandler(&managerChannelHandler{manager: manager})

	// The runner feeds scaled and real elapsed time to every channel's
	// engine through the manager
	runner, err := loop.NewRunner(cfg.Loop.TickInterval, cfg.Loop.TimeScale, manager.Tick)
	if err != nil {
		return nil, fmt.Errorf("failed to create tick runner: %w", err)
	}

	return &Application{
		cfg:      cfg,
		router:   router,
		manager:  manager,
		listener: listener,
		runner:   runner,
	}, nil
}

// Handle registers a protocol handler for a method name
func (app *Application) Handle(method string, fn protocol.HandlerFunc) error {
	return app.router.Register(method, fn)
}

// AddService registers a user service. Services start before the listener
// and stop after it, in registration order.
func (app *Application) AddService(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service is nil")
	}
	if atomic.LoadInt32(&app.started) == 1 {
		return ErrAlreadyStarted
	}

	app.services = append(app.services, svc)
	return nil
}

// Start starts the services, the listener, and the tick runner
func (app *Application) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&app.started, 0, 1) {
		return ErrAlreadyStarted
	}

	started := make([]Service, 0, len(app.services))
	for _, svc := range app.services {
		if err := svc.Start(ctx); err != nil {
			app.unwind(ctx, started)
			atomic.StoreInt32(&app.started, 0)
			return &ApplicationError{Operation: "start", Service: svc.Name(), Err: err}
		}
		started = append(started, svc)
	}

	if err := app.listener.Start(); err != nil {
		app.unwind(ctx, started)
		atomic.StoreInt32(&app.started, 0)
		return &ApplicationError{Operation: "start", Service: "listener", Err: err}
	}

	if interval := app.cfg.Network.Limits.HeartbeatInterval; interval > 0 {
		if err := app.manager.StartHeartbeat(interval); err != nil {
			log.Printf("failed to start heartbeat: %v", err)
		}
	}

	app.startCleanup()

	if err := app.runner.Start(); err != nil {
		app.stopCleanup()
		app.manager.StopHeartbeat()
		app.listener.Stop()
		app.unwind(ctx, started)
		atomic.StoreInt32(&app.started, 0)
		return &ApplicationError{Operation: "start", Service: "tick-runner", Err: err}
	}

	log.Printf("%s started on %s:%d", app.cfg.App.Name, app.cfg.Network.TCP.Address, app.cfg.Network.TCP.Port)
	return nil
}

// Stop stops everything in reverse start order
func (app *Application) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&app.started, 1, 0) {
		return ErrNotStarted
	}

	var lastErr error

	if err := app.runner.Stop(); err != nil && err != loop.ErrNotRunning {
		lastErr = err
	}

	app.stopCleanup()
	app.manager.StopHeartbeat()
	if err := app.listener.Stop(); err != nil {
		lastErr = err
	}
	if err := app.manager.CloseAllChannels(); err != nil {
		lastErr = err
	}

	for i := len(app.services) - 1; i >= 0; i-- {
		if err := app.services[i].Stop(ctx); err != nil {
			lastErr = &ApplicationError{Operation: "stop", Service: app.services[i].Name(), Err: err}
		}
	}

	log.Printf("%s stopped", app.cfg.App.Name)
	return lastErr
}

// Run starts the application and blocks until the context is cancelled
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return app.Stop(context.Background())
}

// IsStarted reports whether the application is running
func (app *Application) IsStarted() bool {
	return atomic.LoadInt32(&app.started) == 1
}

// Router returns the protocol router
func (app *Application) Router() *protocol.Router {
	return app.router
}

// Manager returns the channel manager
func (app *Application) Manager() network.ChannelManager {
	return app.manager
}

// Listener returns the network listener
func (app *Application) Listener() network.Listener {
	return app.listener
}

// Runner returns the tick runner
func (app *Application) Runner() *loop.Runner {
	return app.runner
}

// Config returns the application configuration
func (app *Application) Config() *config.Config {
	return app.cfg
}

// startCleanup launches the idle-channel sweep when both a timeout and a
// sweep interval are configured
func (app *Application) startCleanup() {
	idle := app.cfg.Network.Limits.IdleTimeout
	interval := app.cfg.Network.Limits.CleanupInterval
	if idle <= 0 || interval <= 0 {
		return
	}

	app.cleanupStop = make(chan struct{})
	app.cleanupWg.Add(1)

	go func() {
		defer app.cleanupWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := app.manager.Cleanup(idle); removed > 0 {
					log.Printf("cleaned up %d idle channels", removed)
				}
			case <-app.cleanupStop:
				return
			}
		}
	}()
}

// stopCleanup stops the idle-channel sweep if it is running
func (app *Application) stopCleanup() {
	if app.cleanupStop == nil {
		return
	}

	close(app.cleanupStop)
	app.cleanupWg.Wait()
	app.cleanupStop = nil
}

func (app *Application) unwind(ctx context.Context, started []Service) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			log.Printf("failed to stop service %s during unwind: %v", started[i].Name(), err)
		}
	}
}

// managerChannelHandler keeps the channel manager in sync with the
// listener's accepted channels
type managerChannelHandler struct {
	manager network.ChannelManager
}

func (h *managerChannelHandler) OnOpen(ch network.Channel) {
	if err := h.manager.AddChannel(ch); err != nil {
		log.Printf("failed to track channel %s: %v", ch.ID(), err)
	}
}

func (h *managerChannelHandler) OnClose(ch network.Channel, err error) {
	h.manager.RemoveChannel(ch.ID())
}
