// Package reconcile keeps a professional's five case pools consistent while
// bulk fetches and channel events arrive concurrently. One goroutine owns all
// state; every input is a Message and readers only ever see immutable
// snapshots.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"casedesk/cases"
	"casedesk/channel"
	"casedesk/detail"
	"casedesk/matching"
	"casedesk/offer"
	"casedesk/pool"
	"casedesk/session"

	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("reconcile: engine already running")

// Fetcher is the read half of the bulk API.
type Fetcher interface {
	ListAssigned(ctx context.Context, professionalID int64) ([]cases.Case, error)
	ListRecommended(ctx context.Context, professionalID int64) ([]cases.Case, error)
	ListOffers(ctx context.Context, professionalID int64) ([]offer.Offer, error)
	GetCase(ctx context.Context, caseID int64) (cases.Detail, error)
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCache sets the detail cache of the initial session.
func WithCache(c detail.Cache) Option {
	return func(e *Engine) { e.st.cache = c }
}

// WithAckTimeout bounds how long Apply waits for the engine.
func WithAckTimeout(d time.Duration) Option {
	return func(e *Engine) { e.ackTimeout = d }
}

const cacheTimeout = 2 * time.Second

type Engine struct {
	fetcher    Fetcher
	logger     *log.Logger
	ackTimeout time.Duration

	box     mailbox
	writes  writeQueue
	snap    atomic.Pointer[Snapshot]
	changes chan struct{}
	running atomic.Bool
	stopped chan struct{}

	// owned by the Run goroutine
	st          state
	acks        []chan struct{}
	runCtx      context.Context
	epochCtx    context.Context
	epochCancel context.CancelFunc
}

type pendingBroadcast struct {
	c    cases.Case
	tick uint64
}

type recordedOffer struct {
	o    offer.Offer
	tick uint64
}

// state is the engine's private model. clock orders events and fetch issues
// on one axis so a fetch result can be compared with the events it raced.
type state struct {
	sess  session.Session
	cache detail.Cache
	epoch uint64
	clock uint64

	assigned       []cases.Case
	assignedSeq    uint64
	recommended    []cases.Case
	recommendedSeq uint64
	fetchedOffers  []offer.Offer
	offersSeq      uint64
	recorded       map[int64]recordedOffer

	pending []pendingBroadcast
	// ineligible maps a case id to the tick of the CaseAssigned that removed
	// it from Discovery; discovery results issued before that tick cannot
	// bring it back.
	ineligible map[int64]uint64
	// optimistic hides answered direct requests until an assigned fetch
	// issued afterwards lands.
	optimistic map[int64]uint64
	// tombstones are deleted cases; they never return within the session.
	tombstones pool.IDSet

	pools      pool.Set
	ledger     offer.Ledger
	detail     DetailView
	connection channel.State
	// wasOffline is set when the connection drops and consumed by the next
	// online transition, whatever states the adapter reports in between.
	wasOffline bool
	lastErr    string
}

func newState(sess session.Session, cache detail.Cache, epoch uint64) state {
	if cache == nil {
		cache = detail.NewMemoryCache()
	}
	return state{
		sess:       sess,
		cache:      cache,
		epoch:      epoch,
		recorded:   make(map[int64]recordedOffer),
		ineligible: make(map[int64]uint64),
		optimistic: make(map[int64]uint64),
		tombstones: make(pool.IDSet),
		ledger:     offer.NewLedger(nil),
	}
}

// New builds an engine for sess. Nothing happens until Run.
func New(sess session.Session, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		fetcher:    fetcher,
		logger:     log.Default(),
		ackTimeout: 5 * time.Second,
		changes:    make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}
	e.box.signal = make(chan struct{}, 1)
	e.writes.signal = make(chan struct{}, 1)
	e.st = newState(sess, nil, 1)
	for _, opt := range opts {
		opt(e)
	}
	if e.st.cache == nil {
		e.st.cache = detail.NewMemoryCache()
	}
	e.snap.Store(e.build())
	return e
}

// Run processes messages until ctx is done. It issues a full fetch first.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)

	e.runCtx = ctx
	e.epochCtx, e.epochCancel = context.WithCancel(ctx)
	defer func() { e.epochCancel() }()

	go e.writes.run(ctx)

	e.fetch(FetchAll)
	e.publish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.box.signal:
			for _, env := range e.box.drain() {
				e.dispatch(env.msg)
				if env.done != nil {
					e.acks = append(e.acks, env.done)
				}
			}
			e.publish()
		}
	}
}

// Send queues msg without blocking.
func (e *Engine) Send(msg Message) {
	e.box.push(envelope{msg: msg})
}

// Apply queues msg and waits until its effect is visible in Snapshot, the
// engine stops, or the ack timeout passes.
func (e *Engine) Apply(msg Message) {
	done := make(chan struct{})
	e.box.push(envelope{msg: msg, done: done})
	select {
	case <-done:
	case <-e.stopped:
	case <-time.After(e.ackTimeout):
		e.logger.Printf("reconcile: timed out waiting for %T", msg)
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Changes signals after each publish. Signals coalesce; read Snapshot for
// the current state.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// OnEvent adapts the engine to channel.Callbacks.
func (e *Engine) OnEvent(ev channel.Event) {
	e.Send(EventReceived{Event: ev})
}

// OnState adapts the engine to channel.Callbacks.
func (e *Engine) OnState(s channel.State) {
	e.Send(ConnectionChanged{State: s})
}

// OpenDetail starts showing caseID.
func (e *Engine) OpenDetail(caseID int64) {
	e.Send(DetailOpened{CaseID: caseID})
}

// CloseDetail stops showing the open case.
func (e *Engine) CloseDetail() {
	e.Send(DetailDismissed{})
}

// Refresh asks for a bulk fetch of every list.
func (e *Engine) Refresh() {
	e.Send(RefreshRequested{Kinds: FetchAll})
}

// SwitchIdentity discards everything tied to the current session and starts
// over for sess. In-flight results of the old session are dropped.
func (e *Engine) SwitchIdentity(sess session.Session, cache detail.Cache) {
	e.Apply(IdentityChanged{Session: sess, Cache: cache})
}

// Placement, ActiveOffer, RecordOffer, RemoveOptimistic and Resync make the
// engine an offer.Board.

func (e *Engine) Placement(caseID int64) (pool.Name, bool) {
	return e.Snapshot().Placement(caseID)
}

func (e *Engine) ActiveOffer(caseID int64) (offer.Offer, bool) {
	return e.Snapshot().Offers.Active(caseID)
}

func (e *Engine) RecordOffer(o offer.Offer) {
	e.Apply(OfferRecorded{Offer: o})
}

func (e *Engine) RemoveOptimistic(caseID int64) {
	e.Apply(OptimisticRemoval{CaseID: caseID})
}

func (e *Engine) Resync() {
	e.Refresh()
}

func (e *Engine) dispatch(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("reconcile: recovered from panic handling %T: %v", msg, r)
		}
	}()

	switch m := msg.(type) {
	case EventReceived:
		e.handleEvent(m.Event)
	case ConnectionChanged:
		e.st.connection = m.State
		switch m.State {
		case channel.StateOffline:
			e.st.wasOffline = true
		case channel.StateOnline:
			if e.st.wasOffline {
				// events may have been missed while offline
				e.st.wasOffline = false
				e.fetch(FetchAll)
			}
		}
	case RefreshRequested:
		kinds := m.Kinds
		if kinds == 0 {
			kinds = FetchAll
		}
		e.fetch(kinds)
	case FetchCompleted:
		e.handleFetch(m)
	case IdentityChanged:
		e.handleIdentity(m)
	case DetailOpened:
		e.handleDetailOpened(m.CaseID)
	case DetailDismissed:
		e.st.detail = DetailView{}
	case DetailLoaded:
		e.handleDetailLoaded(m)
	case OptimisticRemoval:
		e.st.clock++
		e.st.optimistic[m.CaseID] = e.st.clock
		e.rebuild()
	case OfferRecorded:
		e.st.clock++
		e.st.recorded[m.Offer.ID] = recordedOffer{o: m.Offer, tick: e.st.clock}
		e.rebuild()
	default:
		e.logger.Printf("reconcile: ignoring message %T", msg)
	}
}

func (e *Engine) handleEvent(ev channel.Event) {
	st := &e.st
	st.clock++
	tick := st.clock

	switch ev := ev.(type) {
	case channel.NewCaseBroadcast:
		if st.tombstones.Has(ev.CaseID) {
			return
		}
		if !matching.Relevant(st.sess.Specializations, ev.Category) {
			return
		}
		if _, ok := st.pools.Lookup(ev.CaseID); ok || e.isPending(ev.CaseID) {
			return
		}
		if _, ok := st.ineligible[ev.CaseID]; ok {
			// Ordering across topics is not guaranteed; let a fresh
			// discovery read decide.
			e.fetch(FetchDiscovery)
			return
		}
		st.pending = append(st.pending, pendingBroadcast{
			c: cases.Case{
				ID:       ev.CaseID,
				Title:    ev.Title,
				Category: ev.Category,
				Status:   cases.StatusPublished,
			},
			tick: tick,
		})
		e.fetch(FetchDiscovery)

	case channel.CaseAssigned:
		st.ineligible[ev.CaseID] = tick
		e.dropPending(ev.CaseID)
		e.rebuild()
		e.fetch(FetchAssigned)

	case channel.CaseDeleted:
		st.tombstones[ev.CaseID] = struct{}{}
		e.dropPending(ev.CaseID)
		if st.detail.CaseID == ev.CaseID && st.detail.State != DetailNone {
			st.detail = DetailView{CaseID: ev.CaseID, State: DetailClosed}
		}
		e.invalidate(ev.CaseID)
		e.rebuild()
		e.fetch(FetchOffers)

	case channel.CaseUpdated:
		e.fetch(FetchAll)

	case channel.Unknown:
		e.logger.Printf("reconcile: dropping unknown event on %s: %s", ev.Destination, ev.Reason)
	}
}

func (e *Engine) handleFetch(m FetchCompleted) {
	st := &e.st
	if m.Epoch != st.epoch {
		return
	}
	if m.Err != nil {
		if errors.Is(m.Err, context.Canceled) {
			return
		}
		e.logger.Printf("reconcile: fetch %d failed, keeping last baseline: %v", m.Seq, m.Err)
		st.lastErr = m.Err.Error()
		return
	}
	st.lastErr = ""

	if m.Kinds.Has(FetchAssigned) && m.Seq > st.assignedSeq {
		st.assigned, st.assignedSeq = m.Assigned, m.Seq
	}
	if m.Kinds.Has(FetchDiscovery) && m.Seq > st.recommendedSeq {
		st.recommended, st.recommendedSeq = m.Recommended, m.Seq
	}
	if m.Kinds.Has(FetchOffers) && m.Seq > st.offersSeq {
		st.fetchedOffers, st.offersSeq = m.Offers, m.Seq
	}
	e.rebuild()
}

func (e *Engine) handleIdentity(m IdentityChanged) {
	cache := m.Cache
	if cache == nil {
		cache = e.st.cache
	}
	e.epochCancel()
	e.st = newState(m.Session, cache, e.st.epoch+1)
	e.epochCtx, e.epochCancel = context.WithCancel(e.runCtx)
	e.rebuild()
	e.fetch(FetchAll)
}

func (e *Engine) handleDetailOpened(caseID int64) {
	st := &e.st
	if st.tombstones.Has(caseID) {
		st.detail = DetailView{CaseID: caseID, State: DetailClosed}
		return
	}
	st.detail = DetailView{CaseID: caseID, State: DetailLoading}

	epoch, cache, ctx := st.epoch, st.cache, e.epochCtx
	go func() {
		msg := DetailLoaded{Epoch: epoch, CaseID: caseID}
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		d, ok, err := cache.Get(cctx, caseID)
		cancel()
		if err != nil {
			e.logger.Printf("reconcile: detail cache read %d: %v", caseID, err)
		}
		if ok {
			msg.Detail, msg.Cached = d, true
		} else {
			msg.Detail, msg.Err = e.fetcher.GetCase(ctx, caseID)
		}
		e.Send(msg)
	}()
}

func (e *Engine) handleDetailLoaded(m DetailLoaded) {
	st := &e.st
	if m.Epoch != st.epoch || st.detail.CaseID != m.CaseID || st.detail.State != DetailLoading {
		return
	}
	switch {
	case st.tombstones.Has(m.CaseID), errors.Is(m.Err, cases.ErrNotFound):
		st.detail = DetailView{CaseID: m.CaseID, State: DetailClosed}
	case m.Err != nil:
		st.detail = DetailView{CaseID: m.CaseID, State: DetailFailed, Err: m.Err.Error()}
	default:
		st.detail = DetailView{CaseID: m.CaseID, State: DetailReady, Detail: m.Detail}
		if !m.Cached {
			d := m.Detail
			e.cacheWrite("write", m.CaseID, func(ctx context.Context, c detail.Cache) error {
				return c.Put(ctx, d)
			})
		}
	}
}

// fetch issues a bulk read of kinds. The result comes back as a
// FetchCompleted message tagged with the current epoch.
func (e *Engine) fetch(kinds Kind) {
	st := &e.st
	if !st.sess.Valid() {
		return
	}
	st.clock++
	seq, epoch, proID, ctx := st.clock, st.epoch, st.sess.ProfessionalID, e.epochCtx

	go func() {
		res := FetchCompleted{Epoch: epoch, Seq: seq, Kinds: kinds}
		g, gctx := errgroup.WithContext(ctx)
		if kinds.Has(FetchAssigned) {
			g.Go(func() error {
				list, err := e.fetcher.ListAssigned(gctx, proID)
				if err != nil {
					return fmt.Errorf("reconcile: list assigned: %w", err)
				}
				res.Assigned = list
				return nil
			})
		}
		if kinds.Has(FetchDiscovery) {
			g.Go(func() error {
				list, err := e.fetcher.ListRecommended(gctx, proID)
				if err != nil {
					return fmt.Errorf("reconcile: list recommended: %w", err)
				}
				res.Recommended = list
				return nil
			})
		}
		if kinds.Has(FetchOffers) {
			g.Go(func() error {
				list, err := e.fetcher.ListOffers(gctx, proID)
				if err != nil {
					return fmt.Errorf("reconcile: list offers: %w", err)
				}
				res.Offers = list
				return nil
			})
		}
		res.Err = g.Wait()
		e.Send(res)
	}()
}

// rebuild derives pools, pending broadcasts and the offer ledger from the
// latest lists and the event bookkeeping. It is deterministic in state.
func (e *Engine) rebuild() {
	st := &e.st

	for id, tick := range st.ineligible {
		if tick < st.recommendedSeq {
			delete(st.ineligible, id)
		}
	}
	for id, tick := range st.optimistic {
		if tick < st.assignedSeq {
			delete(st.optimistic, id)
		}
	}
	for id, r := range st.recorded {
		if r.tick < st.offersSeq {
			delete(st.recorded, id)
		}
	}

	exclude := make(pool.IDSet, len(st.tombstones)+len(st.optimistic))
	for id := range st.tombstones {
		exclude[id] = struct{}{}
	}
	for id := range st.optimistic {
		exclude[id] = struct{}{}
	}
	excludeDiscovery := make(pool.IDSet, len(st.ineligible))
	for id := range st.ineligible {
		excludeDiscovery[id] = struct{}{}
	}

	st.pools = pool.Classify(pool.Input{
		ProfessionalID:   st.sess.ProfessionalID,
		Specializations:  st.sess.Specializations,
		Assigned:         st.assigned,
		Recommended:      st.recommended,
		Exclude:          exclude,
		ExcludeDiscovery: excludeDiscovery,
	})

	kept := make([]pendingBroadcast, 0, len(st.pending))
	for _, p := range st.pending {
		if p.tick < st.recommendedSeq {
			continue
		}
		if exclude.Has(p.c.ID) || excludeDiscovery.Has(p.c.ID) {
			continue
		}
		if _, ok := st.pools.Lookup(p.c.ID); ok {
			continue
		}
		kept = append(kept, p)
	}
	st.pending = kept

	recorded := make([]recordedOffer, 0, len(st.recorded))
	for _, r := range st.recorded {
		recorded = append(recorded, r)
	}
	sort.Slice(recorded, func(i, j int) bool { return recorded[i].tick < recorded[j].tick })
	ledger := offer.NewLedger(st.fetchedOffers)
	for _, r := range recorded {
		ledger = ledger.With(r.o)
	}
	st.ledger = ledger
}

func (e *Engine) isPending(caseID int64) bool {
	for _, p := range e.st.pending {
		if p.c.ID == caseID {
			return true
		}
	}
	return false
}

func (e *Engine) dropPending(caseID int64) {
	kept := make([]pendingBroadcast, 0, len(e.st.pending))
	for _, p := range e.st.pending {
		if p.c.ID != caseID {
			kept = append(kept, p)
		}
	}
	e.st.pending = kept
}

func (e *Engine) invalidate(caseID int64) {
	e.cacheWrite("invalidate", caseID, func(ctx context.Context, c detail.Cache) error {
		return c.Invalidate(ctx, caseID)
	})
}

// cacheWrite queues op against the current session's cache. Writes run in
// order on the write queue; ones queued before an identity switch are
// skipped once the switch cancels their epoch.
func (e *Engine) cacheWrite(what string, caseID int64, op func(context.Context, detail.Cache) error) {
	cache, ctx := e.st.cache, e.epochCtx
	e.writes.push(func() {
		if ctx.Err() != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		defer cancel()
		if err := op(cctx, cache); err != nil {
			e.logger.Printf("reconcile: detail cache %s %d: %v", what, caseID, err)
		}
	})
}

func (e *Engine) build() *Snapshot {
	st := &e.st
	var pending []cases.Case
	if len(st.pending) > 0 {
		pending = make([]cases.Case, 0, len(st.pending))
		for _, p := range st.pending {
			pending = append(pending, p.c)
		}
	}
	return &Snapshot{
		SessionKey:     st.sess.Key,
		ProfessionalID: st.sess.ProfessionalID,
		Epoch:          st.epoch,
		Pools:          st.pools,
		Pending:        pending,
		Offers:         st.ledger,
		Detail:         st.detail,
		Connection:     st.connection,
		Loaded:         st.assignedSeq > 0 && st.recommendedSeq > 0 && st.offersSeq > 0,
		LastError:      st.lastErr,
	}
}

func (e *Engine) publish() {
	e.snap.Store(e.build())
	select {
	case e.changes <- struct{}{}:
	default:
	}
	for _, done := range e.acks {
		close(done)
	}
	e.acks = nil
}

type envelope struct {
	msg  Message
	done chan struct{}
}

// mailbox is an unbounded FIFO so senders never block.
type mailbox struct {
	mu     sync.Mutex
	queue  []envelope
	signal chan struct{}
}

func (m *mailbox) push(env envelope) {
	m.mu.Lock()
	m.queue = append(m.queue, env)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// writeQueue runs cache writes in submission order on its own goroutine so
// a slow cache never holds up message processing.
type writeQueue struct {
	mu     sync.Mutex
	ops    []func()
	signal chan struct{}
}

func (q *writeQueue) push(op func()) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *writeQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		for {
			q.mu.Lock()
			ops := q.ops
			q.ops = nil
			q.mu.Unlock()
			if len(ops) == 0 {
				break
			}
			for _, op := range ops {
				op()
			}
		}
	}
}
