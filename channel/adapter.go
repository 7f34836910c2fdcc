package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// State is the connection status reported through Callbacks.OnState.
type State string

const (
	StateConnecting State = "connecting"
	StateOnline     State = "online"
	StateOffline    State = "offline"
)

// Callbacks is the adapter's delivery surface. Both are invoked from the
// adapter goroutine, one at a time, and must not call Deactivate.
type Callbacks struct {
	OnEvent func(Event)
	OnState func(State)
}

// Config describes one identity's connection.
type Config struct {
	URL            string
	Token          string
	UserID         int64
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *log.Logger
}

// Adapter owns a single notification connection for one identity. It
// subscribes to BroadcastTopic and the identity's PersonalTopic after every
// successful handshake and reconnects with a fixed delay until deactivated.
type Adapter struct {
	cfg Config
	cb  Callbacks

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// subscriptions held on the current connection, destination -> id;
	// only touched by the run goroutine.
	subs map[string]string
}

func NewAdapter(cfg Config, cb Callbacks) *Adapter {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Adapter{cfg: cfg, cb: cb}
}

// Activate starts the connection loop and returns immediately. Calling it on
// an active adapter is a no-op.
func (a *Adapter) Activate(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx, a.done)
}

// Deactivate stops the loop, closes the connection and waits for the adapter
// goroutine to exit. No callback fires after it returns.
func (a *Adapter) Deactivate() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether the adapter has been activated and not deactivated.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

func (a *Adapter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		a.state(ctx, StateConnecting)
		err := a.session(ctx)
		if ctx.Err() != nil {
			return
		}
		a.state(ctx, StateOffline)
		a.cfg.Logger.Printf("channel: connection lost: %v; retrying in %s", err, a.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure.
func (a *Adapter) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.Token)
	conn, _, err := a.cfg.Dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("channel: dial: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		case <-stop:
		}
		conn.Close()
	}()

	a.subs = make(map[string]string, 2)

	connect := newFrame(frame.CONNECT, nil,
		frame.AcceptVersion, "1.2",
		"Authorization", "Bearer "+a.cfg.Token,
	)
	if err := writeFrame(conn, connect); err != nil {
		return fmt.Errorf("channel: send connect: %w", err)
	}
	reply, err := readFrame(conn, a.cfg.Logger)
	if err != nil {
		return err
	}
	if reply.Command != frame.CONNECTED {
		return fmt.Errorf("channel: handshake refused: %s", reply.Header.Get(frame.Message))
	}
	a.state(ctx, StateOnline)

	for _, dest := range []string{BroadcastTopic, PersonalTopic(a.cfg.UserID)} {
		if err := a.subscribe(conn, dest); err != nil {
			return err
		}
	}

	for {
		f, err := readFrame(conn, a.cfg.Logger)
		if err != nil {
			return err
		}
		switch f.Command {
		case frame.MESSAGE:
			dest := f.Header.Get(frame.Destination)
			if !a.subscribed(dest, f.Header.Get(frame.Subscription)) {
				continue
			}
			ev := Decode(dest, f.Body)
			if u, ok := ev.(Unknown); ok {
				a.cfg.Logger.Printf("channel: dropping message on %s: %s", u.Destination, u.Reason)
				continue
			}
			a.emit(ctx, ev)
		case frame.ERROR:
			return fmt.Errorf("channel: server error: %s", f.Header.Get(frame.Message))
		}
	}
}

// subscribe issues SUBSCRIBE unless the destination already has a live
// handle on this connection.
func (a *Adapter) subscribe(conn *websocket.Conn, destination string) error {
	if _, ok := a.subs[destination]; ok {
		return nil
	}
	id := uuid.NewString()
	f := newFrame(frame.SUBSCRIBE, nil, frame.Id, id, frame.Destination, destination, frame.Ack, "auto")
	if err := writeFrame(conn, f); err != nil {
		return fmt.Errorf("channel: subscribe %s: %w", destination, err)
	}
	a.subs[destination] = id
	return nil
}

func (a *Adapter) subscribed(destination, id string) bool {
	cur, ok := a.subs[destination]
	return ok && cur == id
}

func (a *Adapter) emit(ctx context.Context, ev Event) {
	if ctx.Err() != nil || a.cb.OnEvent == nil {
		return
	}
	a.cb.OnEvent(ev)
}

func (a *Adapter) state(ctx context.Context, s State) {
	if ctx.Err() != nil || a.cb.OnState == nil {
		return
	}
	a.cb.OnState(s)
}
