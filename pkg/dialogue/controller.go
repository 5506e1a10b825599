// Package dialogue drives a section-by-section streaming dialogue over a
// duplex channel.
//
// A [Controller] owns exactly one logical session at a time. [Controller.Start]
// opens a channel and sends an "init" command carrying the report summary and
// the user's stable emotion; [Controller.Advance] requests the next section.
// Inbound frames stream text into a pending buffer that is finalised into the
// transcript when the server ends a section. Finalised transcript entries are
// never edited.
//
// All failures are absorbed: transport problems deactivate the session, server
// errors become a visible transcript entry, and malformed frames fall back to
// the legacy raw-text protocol. Nothing is returned to the caller as an error;
// callers observe state through [Controller.Snapshot] or [WithOnUpdate].
//
// Starting a new session supersedes the previous one. Its channel is closed
// and any callbacks still in flight from it are discarded.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lucidcare/pkg/emotion"
)

const (
	// DefaultURL is the comfort-stream endpoint of a local backend.
	DefaultURL = "ws://localhost:8080/comfort-stream"

	// DefaultSettleDelay is how long the controller waits after the channel
	// opens before sending the init command.
	DefaultSettleDelay = 100 * time.Millisecond

	// outboxSize bounds the number of commands queued for the writer.
	outboxSize = 16

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second
)

// ErrClosed is recorded as the session error when the controller is closed
// while a session is live.
var ErrClosed = errors.New("dialogue: controller closed")

// Session end outcomes reported to the [Recorder].
const (
	OutcomeComplete     = "complete"
	OutcomeErrored      = "errored"
	OutcomeDisconnected = "disconnected"
	OutcomeSuperseded   = "superseded"
	OutcomeClosed       = "closed"
)

// Recorder receives controller telemetry. Implementations must be safe for
// concurrent use and must not call back into the Controller.
type Recorder interface {
	RecordSessionOpened(ctx context.Context)
	RecordSessionEnded(ctx context.Context, outcome string)
	RecordDialFailure(ctx context.Context)
	RecordFrame(ctx context.Context, kind string)
	RecordSection(ctx context.Context, d time.Duration)
	RecordCommand(ctx context.Context, action, status string)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithURL sets the channel endpoint. Default: [DefaultURL].
func WithURL(url string) Option {
	return func(c *Controller) {
		if url != "" {
			c.url = url
		}
	}
}

// WithSettleDelay sets the pause between the channel opening and the init
// command. Zero sends immediately; negative values are ignored.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.settleDelay = d
		}
	}
}

// WithOnUpdate registers fn to receive a snapshot after every state change.
// fn runs outside the controller lock, so it may call back into the
// Controller, but it can be invoked from several goroutines at once and
// snapshots may arrive out of order. A superseded channel's last update can
// land after the next session's first one. Compare [Snapshot.Seq] and drop
// anything older than the last snapshot applied.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller is the client side of the dialogue protocol.
// All methods are safe for concurrent use and none of them block on I/O.
type Controller struct {
	transport   Transport
	url         string
	settleDelay time.Duration
	onUpdate    func(Snapshot)
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	ch   *channel // nil when no channel is live
	sess session
	seq  uint64
}

// New returns an idle Controller that opens channels through t.
func New(t Transport, opts ...Option) *Controller {
	c := &Controller{
		transport:   t,
		url:         DefaultURL,
		settleDelay: DefaultSettleDelay,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// outbound is an encoded command waiting for the writer.
type outbound struct {
	action Action
	data   []byte
}

// channel is one dial attempt and, once connected, its open Conn. Every
// callback checks that its channel is still the controller's current one
// before touching session state.
type channel struct {
	ctx    context.Context
	cancel context.CancelFunc
	outbox chan outbound

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func newChannel() *channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &channel{ctx: ctx, cancel: cancel, outbox: make(chan outbound, outboxSize)}
}

// attach records the connected Conn. It reports false when the channel was
// closed while dialing, in which case the caller owns conn.
func (ch *channel) attach(conn Conn) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.conn = conn
	return true
}

// close tears the channel down without blocking the caller.
func (ch *channel) close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	conn := ch.conn
	ch.mu.Unlock()

	if conn == nil {
		ch.cancel()
		return
	}
	go func() {
		_ = conn.Close()
		ch.cancel()
	}()
}

// Start supersedes any current session and begins a new one with sc. It
// returns immediately; the channel is dialed in the background.
func (c *Controller) Start(sc SessionContext) {
	ch := newChannel()

	c.mu.Lock()
	old := c.ch
	wasActive := c.sess.active
	c.ch = ch
	c.sess = session{
		id:    uuid.NewString(),
		state: StateConnecting,
		ctx:   sc,
	}
	id := c.sess.id
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if old != nil {
		old.close()
		if wasActive {
			c.record(func(r Recorder) { r.RecordSessionEnded(context.Background(), OutcomeSuperseded) })
		}
	}
	c.logger.Info("dialogue session starting", "session_id", id, "url", c.url, "emotion", sc.Emotion)
	c.notify(snap)

	go c.connect(ch, id)
}

// connect dials the transport and, on success, activates the session.
func (c *Controller) connect(ch *channel, id string) {
	conn, err := c.transport.Dial(ch.ctx, c.url)

	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Debug("discarding superseded dial", "session_id", id)
		return
	}
	if err != nil {
		c.sess.state = StateErrored
		c.sess.active = false
		c.sess.err = fmt.Errorf("dialogue: dial: %w", err)
		c.ch = nil
		snap := c.snapshotLocked()
		c.mu.Unlock()

		ch.close()
		c.logger.Warn("dialogue dial failed", "session_id", id, "err", err)
		c.record(func(r Recorder) { r.RecordDialFailure(context.Background()) })
		c.notify(snap)
		return
	}
	if !ch.attach(conn) {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.sess.state = StateActive
	c.sess.active = true
	c.sess.transcript = nil
	c.sess.clearPending()
	c.sess.progress = ""
	c.sess.err = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("dialogue channel open", "session_id", id)
	c.record(func(r Recorder) { r.RecordSessionOpened(context.Background()) })
	c.notify(snap)

	go c.writeLoop(ch, conn)
	go c.readLoop(ch, conn)
	go c.sendInit(ch)
}

// sendInit waits for the settle delay and then queues the init command if the
// channel is still current and open.
func (c *Controller) sendInit(ch *channel) {
	if c.settleDelay > 0 {
		t := time.NewTimer(c.settleDelay)
		defer t.Stop()
		select {
		case <-ch.ctx.Done():
			return
		case <-t.C:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != ch || c.sess.state != StateActive || !c.sess.active {
		return
	}
	c.enqueueLocked(ch, Command{
		Action:  ActionInit,
		Summary: c.sess.ctx.Summary,
		Emotion: c.sess.ctx.Emotion,
	})
}

// Advance requests the next section, tagging it with the caller's current
// stable emotion and the session's summary. It is a no-op unless the session
// is active and its channel is open, and reports whether a command was queued.
func (c *Controller) Advance(stable emotion.Label) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.sess.state != StateActive || !c.sess.active {
		return false
	}
	c.sess.ctx.Emotion = stable
	return c.enqueueLocked(c.ch, Command{
		Action:  ActionNext,
		Summary: c.sess.ctx.Summary,
		Emotion: stable,
	})
}

// enqueueLocked queues cmd for the writer without blocking. A full outbox
// drops the command.
func (c *Controller) enqueueLocked(ch *channel, cmd Command) bool {
	data, err := cmd.Encode()
	if err != nil {
		c.logger.Error("dialogue command encode failed", "session_id", c.sess.id, "err", err)
		c.record(func(r Recorder) { r.RecordCommand(context.Background(), string(cmd.Action), "encode_error") })
		return false
	}
	select {
	case ch.outbox <- outbound{action: cmd.Action, data: data}:
		c.logger.Debug("dialogue command queued",
			"session_id", c.sess.id,
			"action", cmd.Action,
			"emotion", cmd.Emotion,
			"summary_len", len(cmd.Summary),
		)
		return true
	default:
		c.logger.Warn("dialogue outbox full; dropping command", "session_id", c.sess.id, "action", cmd.Action)
		c.record(func(r Recorder) { r.RecordCommand(context.Background(), string(cmd.Action), "dropped") })
		return false
	}
}

// writeLoop drains the outbox onto conn until the channel is torn down.
func (c *Controller) writeLoop(ch *channel, conn Conn) {
	for {
		select {
		case <-ch.ctx.Done():
			return
		case out := <-ch.outbox:
			action := string(out.action)
			wctx, cancel := context.WithTimeout(ch.ctx, writeTimeout)
			err := conn.Write(wctx, out.data)
			cancel()
			if err != nil {
				c.record(func(r Recorder) { r.RecordCommand(context.Background(), action, "error") })
				c.handleDisconnect(ch, fmt.Errorf("dialogue: write: %w", err))
				return
			}
			c.record(func(r Recorder) { r.RecordCommand(context.Background(), action, "ok") })
		}
	}
}

// readLoop feeds inbound frames to the handler strictly in arrival order.
func (c *Controller) readLoop(ch *channel, conn Conn) {
	for {
		data, err := conn.Read(ch.ctx)
		if err != nil {
			c.handleDisconnect(ch, fmt.Errorf("dialogue: read: %w", err))
			return
		}
		if !c.handleFrame(ch, data) {
			return
		}
	}
}

// handleDisconnect deactivates the session after a channel failure. The
// lifecycle state is left unchanged; a fresh Start is required to continue.
func (c *Controller) handleDisconnect(ch *channel, err error) {
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	c.ch = nil
	wasActive := c.sess.active
	c.sess.active = false
	c.sess.err = err
	id := c.sess.id
	snap := c.snapshotLocked()
	c.mu.Unlock()

	ch.close()
	c.logger.Warn("dialogue channel lost", "session_id", id, "state", snap.State, "err", err)
	if wasActive {
		c.record(func(r Recorder) { r.RecordSessionEnded(context.Background(), OutcomeDisconnected) })
	}
	c.notify(snap)
}

// handleFrame applies one inbound frame. It reports whether the read loop
// should keep going.
func (c *Controller) handleFrame(ch *channel, data []byte) bool {
	f := ParseFrame(data)
	now := c.now()

	c.mu.Lock()
	if c.ch != ch || c.sess.state != StateActive {
		c.mu.Unlock()
		return false
	}
	id := c.sess.id

	var (
		finalized  bool
		sectionDur time.Duration
		outcome    string
	)
	switch f.Kind {
	case FrameMessage:
		c.sess.appendText(f.Text, now)

	case FrameSectionEnd:
		finalized, sectionDur = c.sess.finalize(now)
		c.sess.progress = f.Progress

	case FrameComplete:
		finalized, sectionDur = c.sess.finalize(now)
		c.sess.state = StateComplete
		c.sess.active = false
		c.ch = nil
		outcome = OutcomeComplete

	case FrameError:
		c.sess.transcript = append(c.sess.transcript, errorPrefix+f.Reason)
		c.sess.clearPending()
		c.sess.state = StateErrored
		c.sess.active = false
		c.ch = nil
		outcome = OutcomeErrored

	case FrameLegacy:
		// Text before each marker closes a section; text after the last
		// marker opens the next one.
		parts := strings.Split(f.Text, LegacyEndMarker)
		for i, part := range parts {
			c.sess.appendText(part, now)
			if i < len(parts)-1 {
				if ok, d := c.sess.finalize(now); ok {
					finalized, sectionDur = true, d
				}
			}
		}

	default:
		c.mu.Unlock()
		c.logger.Debug("ignoring unrecognised dialogue frame", "session_id", id, "frame", string(data))
		c.record(func(r Recorder) { r.RecordFrame(context.Background(), f.Kind.String()) })
		return true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.record(func(r Recorder) {
		ctx := context.Background()
		r.RecordFrame(ctx, f.Kind.String())
		if finalized {
			r.RecordSection(ctx, sectionDur)
		}
		if outcome != "" {
			r.RecordSessionEnded(ctx, outcome)
		}
	})

	switch f.Kind {
	case FrameSectionEnd:
		c.logger.Debug("dialogue section ended", "session_id", id, "progress", f.Progress, "section", f.Section)
	case FrameComplete:
		c.logger.Info("dialogue complete", "session_id", id, "sections", len(snap.Transcript))
	case FrameError:
		c.logger.Warn("dialogue server error", "session_id", id, "reason", f.Reason)
	}
	c.notify(snap)

	if outcome != "" {
		ch.close()
		return false
	}
	return true
}

// Snapshot returns a consistent copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// snapshotLocked copies the session state and stamps it with the next
// sequence number. c.mu must be held.
func (c *Controller) snapshotLocked() Snapshot {
	c.seq++
	snap := c.sess.snapshot()
	snap.Seq = c.seq
	return snap
}

// Messages returns the finalised transcript plus the pending section, if any.
func (c *Controller) Messages() []string {
	return c.Snapshot().Messages()
}

// Close tears down the live channel, if any, and drops its pending callbacks.
// A session still connecting returns to idle; an active one is deactivated
// with [ErrClosed]. The transcript stays readable. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	ch := c.ch
	if ch == nil {
		c.mu.Unlock()
		return nil
	}
	c.ch = nil
	wasActive := c.sess.active
	if c.sess.state == StateConnecting {
		c.sess.state = StateIdle
	}
	if wasActive {
		c.sess.active = false
		c.sess.err = ErrClosed
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	ch.close()
	if wasActive {
		c.record(func(r Recorder) { r.RecordSessionEnded(context.Background(), OutcomeClosed) })
	}
	c.notify(snap)
	return nil
}

func (c *Controller) notify(snap Snapshot) {
	if c.onUpdate == nil {
		return
	}
	c.onUpdate(snap)
}

func (c *Controller) record(fn func(Recorder)) {
	if c.recorder != nil {
		fn(c.recorder)
	}
}
