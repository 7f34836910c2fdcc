// Package desk wires one professional's session together: the bulk API
// client, the notification adapter, the reconciliation engine and the offer
// negotiator.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"casedesk/bulkapi"
	"casedesk/channel"
	"casedesk/detail"
	"casedesk/offer"
	"casedesk/reconcile"
	"casedesk/session"
)

var (
	ErrInvalidSession = errors.New("desk: session carries no identity")
	ErrNotStarted     = errors.New("desk: not started")
	ErrClosed         = errors.New("desk: closed")
)

// CacheFactory builds the detail cache for a session.
type CacheFactory func(sess session.Session) detail.Cache

type Options struct {
	APIBaseURL     string
	ChannelURL     string
	ReconnectDelay time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Logger         *log.Logger
	NewCache       CacheFactory
}

type Desk struct {
	opts       Options
	api        *tokenAPI
	engine     *reconcile.Engine
	negotiator *offer.Negotiator

	mu      sync.Mutex
	sess    session.Session
	cache   detail.Cache
	adapter *channel.Adapter
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool
}

// New prepares a desk for sess. Nothing connects until Start.
func New(sess session.Session, opts Options) (*Desk, error) {
	if !sess.Valid() {
		return nil, ErrInvalidSession
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.NewCache == nil {
		opts.NewCache = func(session.Session) detail.Cache { return detail.NewMemoryCache() }
	}

	d := &Desk{opts: opts, api: &tokenAPI{}, sess: sess}
	d.api.cur.Store(d.newClient(sess.Token))
	d.cache = opts.NewCache(sess)
	d.engine = reconcile.New(sess, d.api,
		reconcile.WithLogger(opts.Logger),
		reconcile.WithCache(d.cache),
	)
	d.negotiator = offer.NewNegotiator(d.api, d.engine)
	return d, nil
}

// SessionFromToken builds a session from token, filling specializations
// from the profile endpoint when the token does not carry them.
func SessionFromToken(ctx context.Context, client *bulkapi.Client, token string) (session.Session, error) {
	sess, err := session.FromToken(token)
	if err != nil {
		return session.Session{}, err
	}
	if len(sess.Specializations) > 0 {
		return sess, nil
	}
	p, err := client.WithToken(token).GetProfile(ctx, sess.ProfessionalID)
	if err != nil {
		return session.Session{}, fmt.Errorf("desk: load profile: %w", err)
	}
	sess.Specializations = p.Specializations
	return sess, nil
}

func (d *Desk) newClient(token string) *bulkapi.Client {
	var opts []bulkapi.Option
	if d.opts.HTTPClient != nil {
		opts = append(opts, bulkapi.WithHTTPClient(d.opts.HTTPClient))
	}
	return bulkapi.New(d.opts.APIBaseURL, token, opts...)
}

func (d *Desk) newAdapter(sess session.Session) *channel.Adapter {
	return channel.NewAdapter(channel.Config{
		URL:            d.opts.ChannelURL,
		Token:          sess.Token,
		UserID:         sess.ProfessionalID,
		ReconnectDelay: d.opts.ReconnectDelay,
		Dialer:         d.opts.Dialer,
		Logger:         d.opts.Logger,
	}, channel.Callbacks{
		OnEvent: d.engine.OnEvent,
		OnState: d.engine.OnState,
	})
}

// Start runs the engine and activates the channel. It returns immediately.
func (d *Desk) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.group != nil {
		return nil
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(d.ctx)
	d.group = g
	g.Go(func() error { return d.engine.Run(gctx) })

	d.adapter = d.newAdapter(d.sess)
	d.adapter.Activate(d.ctx)
	return nil
}

// Switch replaces the identity. The old channel is torn down before anything
// of the new session happens, and the old session's cached details are
// purged.
func (d *Desk) Switch(ctx context.Context, sess session.Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.group == nil {
		return ErrNotStarted
	}

	d.adapter.Deactivate()

	old := d.cache
	d.sess = sess
	d.cache = d.opts.NewCache(sess)
	d.api.cur.Store(d.newClient(sess.Token))
	d.engine.SwitchIdentity(sess, d.cache)

	if err := old.Purge(ctx); err != nil {
		d.opts.Logger.Printf("desk: purge previous session cache: %v", err)
	}

	d.adapter = d.newAdapter(sess)
	d.adapter.Activate(d.ctx)
	return nil
}

// Close deactivates the channel, stops the engine and purges the session's
// cache. It is safe to call more than once.
func (d *Desk) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if d.adapter != nil {
		d.adapter.Deactivate()
	}
	var runErr error
	if d.group != nil {
		d.cancel()
		runErr = d.group.Wait()
	}
	if err := d.cache.Purge(ctx); err != nil {
		d.opts.Logger.Printf("desk: purge session cache: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("desk: engine: %w", runErr)
	}
	return nil
}

func (d *Desk) Session() session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

func (d *Desk) Engine() *reconcile.Engine { return d.engine }

func (d *Desk) Negotiator() *offer.Negotiator { return d.negotiator }

func (d *Desk) Snapshot() *reconcile.Snapshot { return d.engine.Snapshot() }

// Changes signals after every engine publish.
func (d *Desk) Changes() <-chan struct{} { return d.engine.Changes() }
