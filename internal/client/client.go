// Package client is the composition root of the sync core: it owns one
// session's resources, multiplexes the channel, the poll timer and user
// commands onto a single event loop, and publishes outward through a
// small callback surface. Components never run concurrently with each
// other; everything that touches state happens on the loop goroutine.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablesync/internal/api"
	"tablesync/internal/transport"
	"tablesync/session"
)

// Severity labels a transient message for the presentation layer.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

// HandResult is the displayable outcome of a completed hand. Identity
// is HandNumber; two results for the same hand are the same result.
type HandResult struct {
	HandNumber int
	Winners    []session.Winner
	PotAmount  int64
	Type       string
	ShownAt    time.Time
}

// Callbacks is what the embedding presentation layer receives. A nil
// HandResult clears the popup. None fires after Close.
type Callbacks struct {
	OnConnectionState  func(transport.ConnState)
	OnTransientMessage func(text string, severity Severity, hint time.Duration)
	OnHandResult       func(*HandResult)
	OnSessionUpdate    func(*session.Session)
	OnNavigate         func(transport.Destination)
}

// Collaborator is the request/response surface the client consumes.
// *api.Client satisfies it.
type Collaborator interface {
	FetchSession(ctx context.Context, id string) (*session.Session, error)
	FetchHandHistory(ctx context.Context, id string) ([]session.HandRecord, error)
	Start(ctx context.Context, id string) (*session.Session, error)
	SubmitAction(ctx context.Context, id string, kind session.ActionKind, amount int64) (*session.Session, error)
	SetReady(ctx context.Context, id string) (*session.Session, error)
	CashOut(ctx context.Context, id string) (*session.Session, error)
	BuyBackIn(ctx context.Context, id string, amount int64) (*session.Session, error)
	Reset(ctx context.Context, id string) (*session.Session, error)
	Leave(ctx context.Context, id string) error
}

// Channel is the duplex stream the client listens on. *transport.Manager
// satisfies it; tests drive the hooks directly through a fake.
type Channel interface {
	Connect(sessionID string) error
	Close() error
}

var (
	ErrClosed = errors.New("client: closed")
	// ErrBusy means an action round trip is already outstanding.
	ErrBusy = errors.New("client: action already in flight")
)

const transientHint = 4 * time.Second

type Config struct {
	SessionID    string
	ViewerUserID string

	API Collaborator
	// NewChannel builds the transport bound to this client's hooks.
	// Production wires transport.New; tests substitute a fake.
	NewChannel func(transport.Hooks) Channel

	Callbacks Callbacks

	// PollInterval is the full-state refresh cadence, independent of
	// channel health.
	PollInterval time.Duration
	// MinBusy is the minimum action round-trip busy period, enforced
	// even on fast responses so transitions stay perceptible.
	MinBusy        time.Duration
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MinBusy <= 0 {
		c.MinBusy = 300 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) validate() error {
	if c.SessionID == "" {
		return errors.New("client: SessionID is required")
	}
	if c.ViewerUserID == "" {
		return errors.New("client: ViewerUserID is required")
	}
	if c.API == nil {
		return errors.New("client: API is required")
	}
	if c.NewChannel == nil {
		return errors.New("client: NewChannel is required")
	}
	return nil
}

type eventKind int

const (
	evSnapshot eventKind = iota
	evConnState
	evTransportError
	evNavigate
	evPollResult
	evSubmitDone
)

type event struct {
	kind  eventKind
	snap  *session.Session
	state transport.ConnState
	err   error
	dest  transport.Destination
}

type command struct {
	run  func() error
	resp chan error
}

// Client holds exactly one session's live resources. Switching sessions
// means Close on the old client and New on a fresh one.
type Client struct {
	cfg Config
	log *zap.Logger
	cb  Callbacks
	ch  Channel

	ctx    context.Context
	cancel context.CancelFunc

	events   chan event
	cmds     chan command
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	closeMu  sync.Mutex
	started  bool

	// Loop-owned. Never touched off the loop goroutine.
	sess         *session.Session
	pre          *PreAction
	popup        popupSequencer
	busy         bool
	pollInFlight bool
}

func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:    cfg,
		log:    cfg.Logger.Named("client").With(zap.String("session", cfg.SessionID)),
		cb:     cfg.Callbacks,
		events:  make(chan event, 256),
		cmds:    make(chan command),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.popup = popupSequencer{
		viewerUserID: cfg.ViewerUserID,
		log:          c.log.Named("popup"),
		now:          time.Now,
		emit:         cfg.Callbacks.OnHandResult,
	}
	c.ch = cfg.NewChannel(transport.Hooks{
		OnMessage: func(s *session.Session) {
			c.enqueue(event{kind: evSnapshot, snap: s})
		},
		OnError: func(err error) {
			c.enqueue(event{kind: evTransportError, err: err})
		},
		OnConnectionChange: func(s transport.ConnState) {
			c.enqueue(event{kind: evConnState, state: s})
		},
		OnNavigate: func(d transport.Destination) {
			c.enqueue(event{kind: evNavigate, dest: d})
		},
	})
	return c, nil
}

// Start fetches the initial snapshot, begins the event loop and opens
// the channel. A missing session fails fast; transient channel trouble
// does not, the transport retries on its own.
func (c *Client) Start(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	fetchCtx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	snap, err := c.cfg.API.FetchSession(fetchCtx, c.cfg.SessionID)
	cancel()
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			c.transient("This session no longer exists.", SeverityInfo)
			if c.cb.OnNavigate != nil {
				c.cb.OnNavigate(transport.DestListing)
			}
		}
		return err
	}

	c.closeMu.Lock()
	c.started = true
	c.closeMu.Unlock()
	go c.run()
	c.enqueue(event{kind: evSnapshot, snap: snap})

	if err := c.ch.Connect(c.cfg.SessionID); err != nil {
		// Retryable: the poll fallback keeps state fresh meanwhile.
		c.log.Warn("initial channel connect failed", zap.Error(err))
	}
	return nil
}

// run is the single event loop. done wins over every other ready case:
// once it is closed, queued events are discarded without touching the
// callbacks, and stopped is closed so Close can observe the loop gone.
func (c *Client) run() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.log.Debug("event loop stopped")
			return
		default:
		}
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case cmd := <-c.cmds:
			cmd.resp <- cmd.run()
		case <-ticker.C:
			c.pollTick()
		case <-c.done:
			c.log.Debug("event loop stopped")
			return
		}
	}
}

func (c *Client) enqueue(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) handleEvent(ev event) {
	switch ev.kind {
	case evSnapshot:
		c.applySnapshot(ev.snap)
	case evConnState:
		if c.cb.OnConnectionState != nil {
			c.cb.OnConnectionState(ev.state)
		}
	case evTransportError:
		c.surfaceTransportError(ev.err)
	case evNavigate:
		c.navigate(ev.dest)
	case evPollResult:
		c.pollInFlight = false
		if ev.err != nil {
			if errors.Is(ev.err, api.ErrNotFound) {
				c.transient("This session no longer exists.", SeverityInfo)
				c.navigate(transport.DestListing)
				return
			}
			// The next tick retries; the channel may still be healthy.
			c.log.Debug("poll failed", zap.Error(ev.err))
			return
		}
		c.applySnapshot(ev.snap)
	case evSubmitDone:
		c.busy = false
		if ev.err != nil {
			c.surfaceActionError(ev.err)
			return
		}
		if ev.snap != nil {
			c.applySnapshot(ev.snap)
		}
	}
}

// applySnapshot runs the push and poll paths through the identical
// reconciliation, then lets the popup sequencer and the pre-action
// queue react to the merged state.
func (c *Client) applySnapshot(inbound *session.Session) {
	merged, events := session.Apply(inbound, c.sess)
	c.sess = merged
	if c.cb.OnSessionUpdate != nil {
		c.cb.OnSessionUpdate(merged.Clone())
	}
	for _, e := range events {
		switch e := e.(type) {
		case session.HandCompletion:
			c.popup.handleCompletion(e)
		case session.SessionEnded:
			c.transient("Session complete. Heading to the summary.", SeverityInfo)
			c.navigate(transport.DestSummary)
		}
	}
	c.resolvePreAction()
}

func (c *Client) pollTick() {
	if c.pollInFlight {
		return
	}
	c.pollInFlight = true
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		defer cancel()
		snap, err := c.cfg.API.FetchSession(ctx, c.cfg.SessionID)
		c.enqueue(event{kind: evPollResult, snap: snap, err: err})
	}()
}

// --- Pre-action queue ---

// SetPreAction queues an action ahead of the viewer's turn, replacing
// any queued one. If it is already the viewer's turn it executes
// immediately instead.
func (c *Client) SetPreAction(kind session.ActionKind, amount int64) error {
	return c.do(func() error {
		viewer := c.viewer()
		pre := &PreAction{Kind: kind, Amount: amount, CreatedAt: time.Now()}
		if viewer != nil && c.sess.CurrentHolderID == viewer.ID &&
			viewer.Active && !viewer.CashedOut {
			return c.executePreAction(pre, viewer)
		}
		c.pre = pre
		return nil
	})
}

func (c *Client) viewer() *session.Participant {
	if c.sess == nil {
		return nil
	}
	return c.sess.ParticipantByUser(c.cfg.ViewerUserID)
}

// resolvePreAction fires when the reconciled state makes the viewer the
// holder. Validity is judged against current parameters, never the
// parameters at queue time; a stale pre-action is dropped without a
// word. The queue is cleared either way.
func (c *Client) resolvePreAction() {
	if c.pre == nil {
		return
	}
	viewer := c.viewer()
	if viewer == nil || c.sess.CurrentHolderID != viewer.ID {
		return
	}
	pre := c.pre
	c.pre = nil
	if !viewer.Active || viewer.CashedOut {
		return
	}
	if err := c.executePreAction(pre, viewer); err != nil {
		// Stale resolution is not an error surface.
		c.log.Debug("pre-action dropped", zap.String("kind", string(pre.Kind)), zap.Error(err))
	}
}

func (c *Client) executePreAction(pre *PreAction, viewer *session.Participant) error {
	kind, amount, ok := resolvePreAction(c.sess, viewer, pre)
	if !ok {
		c.log.Debug("stale pre-action discarded",
			zap.String("kind", string(pre.Kind)),
			zap.Int64("amount", pre.Amount),
			zap.Int64("currentBet", c.sess.CurrentBet))
		return nil
	}
	return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
		return c.cfg.API.SubmitAction(ctx, c.cfg.SessionID, kind, amount)
	})
}

// --- Viewer commands ---

// SubmitAction submits a betting action right now.
func (c *Client) SubmitAction(kind session.ActionKind, amount int64) error {
	return c.do(func() error {
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.SubmitAction(ctx, c.cfg.SessionID, kind, amount)
		})
	})
}

// Ready marks the viewer ready for the next hand and clears any active
// result popup unconditionally.
func (c *Client) Ready() error {
	return c.do(func() error {
		c.popup.dismiss()
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.SetReady(ctx, c.cfg.SessionID)
		})
	})
}

// CashOut takes the viewer's stake out of play and clears any active
// result popup unconditionally.
func (c *Client) CashOut() error {
	return c.do(func() error {
		c.popup.dismiss()
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.CashOut(ctx, c.cfg.SessionID)
		})
	})
}

// BuyBackIn returns a cashed-out viewer to the session.
func (c *Client) BuyBackIn(amount int64) error {
	return c.do(func() error {
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.BuyBackIn(ctx, c.cfg.SessionID, amount)
		})
	})
}

// StartSession begins play for a session that is still waiting.
func (c *Client) StartSession() error {
	return c.do(func() error {
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.Start(ctx, c.cfg.SessionID)
		})
	})
}

// Reset asks the service for a clean between-hands state.
func (c *Client) Reset() error {
	return c.do(func() error {
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return c.cfg.API.Reset(ctx, c.cfg.SessionID)
		})
	})
}

// Leave removes the viewer from the session. The caller still owns
// teardown via Close.
func (c *Client) Leave() error {
	return c.do(func() error {
		return c.startSubmit(func(ctx context.Context) (*session.Session, error) {
			return nil, c.cfg.API.Leave(ctx, c.cfg.SessionID)
		})
	})
}

// HandHistory fetches completed-hand records. Read-only, bypasses the
// event loop.
func (c *Client) HandHistory(ctx context.Context) ([]session.HandRecord, error) {
	return c.cfg.API.FetchHandHistory(ctx, c.cfg.SessionID)
}

// do runs fn on the loop goroutine and waits for its result.
func (c *Client) do(fn func() error) error {
	cmd := command{run: fn, resp: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// startSubmit begins one action round trip. A second submission while
// one is outstanding is refused, and the busy period lasts at least
// MinBusy even when the service answers faster.
func (c *Client) startSubmit(op func(context.Context) (*session.Session, error)) error {
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
		defer cancel()
		start := time.Now()
		snap, err := op(ctx)
		if wait := c.cfg.MinBusy - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-c.done:
				return
			}
		}
		c.enqueue(event{kind: evSubmitDone, snap: snap, err: err})
	}()
	return nil
}

// --- Error surfaces ---

func (c *Client) surfaceTransportError(err error) {
	var parse *transport.ParseError
	if errors.As(err, &parse) {
		c.transient("Connection hiccup: an update could not be read.", SeverityInfo)
		return
	}
	c.transient(err.Error(), SeverityError)
}

func (c *Client) surfaceActionError(err error) {
	if errors.Is(err, api.ErrNotFound) {
		c.transient("This session no longer exists.", SeverityInfo)
		c.navigate(transport.DestListing)
		return
	}
	var rejected *api.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		c.transient(rejected.Message, SeverityError)
		return
	}
	c.log.Warn("action failed", zap.Error(err))
	c.transient("That didn't go through. Please try again.", SeverityError)
}

func (c *Client) transient(text string, sev Severity) {
	if c.cb.OnTransientMessage != nil {
		c.cb.OnTransientMessage(text, sev, transientHint)
	}
}

func (c *Client) navigate(dest transport.Destination) {
	if c.cb.OnNavigate != nil {
		c.cb.OnNavigate(dest)
	}
}

// Close tears everything down: the loop, the channel and every pending
// timer. It blocks until the event loop has exited, so when it returns
// no callback is running and none will fire afterward. Close is
// idempotent. Must not be called from inside a callback.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.stopOnce.Do(func() {
		close(c.done)
	})
	if c.cancel != nil {
		c.cancel()
	}
	if c.started {
		<-c.stopped
	}
	return c.ch.Close()
}
