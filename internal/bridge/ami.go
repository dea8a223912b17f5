package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ivahaev/amigo"
)

// connectTimeout bounds how long Connect waits for the AMI login handshake.
const connectTimeout = 10 * time.Second

// AMIConfig holds the settings for the Asterisk Manager Interface transport.
type AMIConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// AMI is the production Transport backed by the Asterisk Manager Interface.
type AMI struct {
	cfg    AMIConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    *amigo.Amigo
	events    chan map[string]string
	connected bool
	closed    chan struct{}

	listeners  map[int]func(RawEvent)
	statusSubs map[int]func(bool, string)
	nextID     int
}

// NewAMI creates an AMI transport. No connection is made until Connect.
func NewAMI(cfg AMIConfig, logger *slog.Logger) *AMI {
	return &AMI{
		cfg:        cfg,
		logger:     logger.With("subsystem", "ami"),
		listeners:  make(map[int]func(RawEvent)),
		statusSubs: make(map[int]func(bool, string)),
	}
}

// Connect logs in to the AMI and starts the event pump. It blocks until the
// login handshake completes, the context is cancelled, or the handshake
// times out.
func (a *AMI) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return fmt.Errorf("ami transport already connected")
	}

	client := amigo.New(&amigo.Settings{
		Host:     a.cfg.Host,
		Port:     a.cfg.Port,
		Username: a.cfg.Username,
		Password: a.cfg.Password,
	})

	ready := make(chan error, 1)
	client.On("connect", func(msg string) {
		select {
		case ready <- nil:
		default:
		}
		a.onUp(msg)
	})
	client.On("error", func(msg string) {
		select {
		case ready <- fmt.Errorf("ami: %s", msg):
		default:
		}
		a.onDown(msg)
	})

	events := make(chan map[string]string, 128)
	client.SetEventChannel(events)

	closed := make(chan struct{})
	a.client = client
	a.events = events
	a.closed = closed
	a.mu.Unlock()

	go a.pump(events, closed)

	client.Connect()

	select {
	case err := <-ready:
		if err != nil {
			a.teardown()
			return err
		}
		return nil
	case <-ctx.Done():
		a.teardown()
		return ctx.Err()
	case <-time.After(connectTimeout):
		a.teardown()
		return fmt.Errorf("ami login timed out after %s", connectTimeout)
	}
}

// Disconnect logs off the AMI session and stops the event pump.
func (a *AMI) Disconnect() error {
	a.mu.Lock()
	client := a.client
	wasConnected := a.connected
	a.mu.Unlock()

	if client != nil && wasConnected {
		if _, err := client.Action(map[string]string{"Action": "Logoff"}); err != nil {
			a.logger.Warn("ami logoff failed", "error", err)
		}
	}
	a.teardown()
	return nil
}

// Connected reports whether the AMI session is live.
func (a *AMI) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected && a.client != nil && a.client.Connected()
}

// Originate sends an AMI Originate action for the given call leg.
func (a *AMI) Originate(_ context.Context, o Origination) error {
	a.mu.Lock()
	client := a.client
	connected := a.connected
	a.mu.Unlock()

	if client == nil || !connected {
		return fmt.Errorf("ami transport not connected")
	}

	action := map[string]string{
		"Action":   "Originate",
		"Channel":  o.Channel,
		"Exten":    o.Extension,
		"Context":  o.Context,
		"Priority": "1",
		"Async":    "true",
	}
	if o.CallerID != "" {
		action["CallerID"] = o.CallerID
	}

	resp, err := client.Action(action)
	if err != nil {
		return fmt.Errorf("originate to %s: %w", o.Extension, err)
	}
	if !strings.EqualFold(resp["Response"], "Success") {
		return fmt.Errorf("originate rejected: %s", resp["Message"])
	}
	return nil
}

// OnEvent registers a raw event listener.
func (a *AMI) OnEvent(fn func(RawEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// OnStatusChange registers a transport status listener.
func (a *AMI) OnStatusChange(fn func(bool, string)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.statusSubs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.statusSubs, id)
	}
}

// pump forwards AMI events to listeners until the session is torn down.
// Events are delivered on this single goroutine, which serializes all
// downstream state transitions.
func (a *AMI) pump(events chan map[string]string, closed chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			raw := make(RawEvent, len(ev))
			for k, v := range ev {
				raw[strings.ToLower(k)] = v
			}
			for _, fn := range a.snapshotListeners() {
				fn(raw)
			}
		}
	}
}

func (a *AMI) snapshotListeners() []func(RawEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fns := make([]func(RawEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (a *AMI) onUp(msg string) {
	a.mu.Lock()
	a.connected = true
	subs := a.snapshotStatusLocked()
	a.mu.Unlock()

	a.logger.Info("ami connected", "message", msg)
	for _, fn := range subs {
		fn(true, "")
	}
}

func (a *AMI) onDown(reason string) {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	subs := a.snapshotStatusLocked()
	a.mu.Unlock()

	a.logger.Warn("ami connection lost", "reason", reason)
	if wasConnected {
		for _, fn := range subs {
			fn(false, reason)
		}
	}
}

func (a *AMI) snapshotStatusLocked() []func(bool, string) {
	fns := make([]func(bool, string), 0, len(a.statusSubs))
	for _, fn := range a.statusSubs {
		fns = append(fns, fn)
	}
	return fns
}

func (a *AMI) teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed != nil {
		close(a.closed)
		a.closed = nil
	}
	a.client = nil
	a.events = nil
	a.connected = false
}
