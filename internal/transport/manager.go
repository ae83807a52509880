// Package transport maintains the realtime connection for one chat session:
// dial, application-level handshake, heartbeat, reconnect with backoff, and
// an in-memory FIFO queue for messages sent while offline.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Close code used when the heartbeat window expires, so server logs can tell
// a liveness kill from a normal client disconnect.
const heartbeatCloseCode = websocket.StatusCode(4002)

const writeTimeout = 5 * time.Second

// Options tunes reconnect and heartbeat behavior. Zero values fall back to
// the defaults from the protocol: 1s/16s backoff, 5 attempts, 30s/10s
// heartbeat.
type Options struct {
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	MaxReconnects     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	EventBuffer       int
	Logger            zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 16 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
}

// Manager owns at most one live connection for a (session, owner) pair.
type Manager struct {
	baseURL   string
	sessionID uuid.UUID
	ownerID   uuid.UUID
	role      domain.OwnerRole
	opts      Options
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	queue       []domain.ClientFrame
	attempt     int
	gen         int // connection generation; stale goroutines compare and bail
	intentional bool
	retryTimer  *time.Timer
	cancel      context.CancelFunc
	lastTraffic time.Time

	events chan Event
}

// NewManager creates a manager for one session. It does not connect.
func NewManager(baseURL string, sessionID, ownerID uuid.UUID, role domain.OwnerRole, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		baseURL:   baseURL,
		sessionID: sessionID,
		ownerID:   ownerID,
		role:      role,
		opts:      opts,
		log: opts.Logger.With().
			Str("session_id", sessionID.String()).
			Str("owner_id", ownerID.String()).
			Logger(),
		state:  StateDisconnected,
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events returns the channel carrying all server frames and status changes.
// The channel is never closed; stop reading after Disconnect.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the handshake has completed.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect starts connecting. It is idempotent: a no-op while a connection or
// reconnect attempt is already in progress.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return
	}
	m.intentional = false
	m.attempt = 0
	ev := m.startLocked()
	m.mu.Unlock()
	m.emit(ev...)
}

// startLocked begins a dial attempt. Caller holds mu and sends the returned
// events after unlocking.
func (m *Manager) startLocked() []Event {
	m.state = StateConnecting
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx, gen)

	return []Event{StatusEvent{State: StateConnecting}}
}

// Disconnect is the only intentional close path: it stops timers, closes the
// connection with a normal status, and never schedules a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	alreadyDown := m.state == StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if !alreadyDown {
		m.emit(StatusEvent{State: StateDisconnected, Reason: "client requested"})
	}
}

// Send transmits a message frame if connected, otherwise queues it for the
// next successful handshake. The queue is in-memory only.
func (m *Manager) Send(content string, msgType domain.MessageType, data *domain.MessageData) error {
	frame := domain.ClientFrame{
		Type:        domain.FrameMessage,
		Content:     content,
		MessageType: msgType,
		MessageData: data,
	}

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.queue = append(m.queue, frame)
		n := len(m.queue)
		m.mu.Unlock()
		m.log.Debug().Int("queued", n).Msg("transport offline, message queued")
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := writeFrame(conn, frame); err != nil {
		m.emit(ErrorEvent{Code: CodeConnectionError, Message: err.Error()})
		return &Error{Code: CodeConnectionError, Message: err.Error()}
	}
	return nil
}

// QueuedCount returns the number of messages waiting for a connection.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) dialURL() string {
	roleParam := "candidate_id"
	if m.role == domain.OwnerEmployer {
		roleParam = "employer_id"
	}
	return fmt.Sprintf("%s/ws/chat/%s?%s=%s", m.baseURL, m.sessionID, roleParam, m.ownerID)
}

// run is one connection attempt: dial, install the conn, then read until the
// connection dies or the generation is invalidated.
func (m *Manager) run(ctx context.Context, gen int) {
	conn, _, err := websocket.Dial(ctx, m.dialURL(), nil)
	if err != nil {
		m.emit(ErrorEvent{Code: CodeConnectionError, Message: err.Error()})
		m.connectionLost(gen, err.Error())
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	m.conn = conn
	m.lastTraffic = time.Now()
	m.mu.Unlock()

	go m.heartbeat(ctx, gen, conn)
	m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.connectionLost(gen, closeReason(err))
			return
		}

		m.mu.Lock()
		m.lastTraffic = time.Now()
		m.mu.Unlock()

		var frame domain.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.log.Warn().Err(err).Msg("dropping malformed server frame")
			continue
		}
		m.handleFrame(gen, conn, frame)
	}
}

func (m *Manager) handleFrame(gen int, conn *websocket.Conn, frame domain.ServerFrame) {
	switch frame.Type {
	case domain.FrameConnected:
		m.handshakeComplete(gen, conn, frame)
	case domain.FramePong:
		// Traffic already recorded by the read loop.
	case domain.FrameTyping:
		m.emit(TypingEvent{IsTyping: frame.IsTyping})
	case domain.FrameBotMessage:
		if frame.Message != nil {
			m.emit(BotMessageEvent{Message: *frame.Message})
		}
	case domain.FrameUserMessageAck:
		if frame.Message != nil {
			m.emit(UserMessageAckEvent{Message: *frame.Message})
		}
	case domain.FrameSessionUpdate:
		if frame.Session != nil {
			m.emit(SessionUpdateEvent{Session: *frame.Session})
		}
	case domain.FrameError:
		m.emit(ErrorEvent{Code: frame.Code, Message: frame.Error})
	default:
		m.log.Warn().Str("type", string(frame.Type)).Msg("unknown server frame type")
	}
}

// handshakeComplete flushes the offline queue in FIFO order and then flips
// the state to connected. Only the application-level ack gets here; a raw
// socket open never marks the manager connected. The state flips after the
// flush so a concurrent Send queues behind the backlog instead of writing
// into the middle of it.
func (m *Manager) handshakeComplete(gen int, conn *websocket.Conn, frame domain.ServerFrame) {
	// The ack confirms the session/owner pair; a mismatch means the server
	// routed us somewhere unexpected, so keep our own ids.
	if id, err := uuid.Parse(frame.SessionID); err == nil && id != m.sessionID {
		m.log.Warn().
			Str("ack_session_id", frame.SessionID).
			Msg("connected ack names a different session, keeping own")
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.attempt = 0
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	for {
		for i, f := range pending {
			if err := writeFrame(conn, f); err != nil {
				// The read loop will observe the dead connection and
				// schedule the reconnect; the remainder stays queued.
				m.log.Error().Err(err).Msg("flush failed, requeueing remainder")
				m.mu.Lock()
				m.queue = append(append([]domain.ClientFrame{}, pending[i:]...), m.queue...)
				m.mu.Unlock()
				return
			}
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			m.state = StateConnected
			m.mu.Unlock()
			break
		}
		// Sends that arrived mid-flush queued themselves; drain them before
		// admitting live writes.
		pending = m.queue
		m.queue = nil
		m.mu.Unlock()
	}

	m.emit(
		StatusEvent{State: StateConnected},
		ConnectedEvent{SessionID: m.sessionID, OwnerID: m.ownerID},
	)
	m.log.Info().Msg("transport connected")
}

// heartbeat pings on a fixed interval and force-closes the socket when no
// traffic at all is observed within the timeout window after a ping.
func (m *Manager) heartbeat(ctx context.Context, gen int, conn *websocket.Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := writeFrame(conn, domain.ClientFrame{Type: domain.FramePing}); err != nil {
			return // read loop will observe the dead connection
		}
		pingAt := time.Now()

		timer := time.NewTimer(m.opts.HeartbeatTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		silent := gen == m.gen && !m.lastTraffic.After(pingAt)
		m.mu.Unlock()
		if silent {
			m.log.Warn().Msg("heartbeat timeout, forcing close")
			_ = conn.Close(heartbeatCloseCode, "heartbeat timeout")
			return
		}
	}
}

// connectionLost handles any non-intentional termination: dial failure, read
// error, or heartbeat kill. It schedules a reconnect unless the attempt cap
// is exhausted.
func (m *Manager) connectionLost(gen int, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.intentional {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.state = StateDisconnected

	events := []Event{StatusEvent{State: StateDisconnected, Reason: reason}}

	if m.attempt >= m.opts.MaxReconnects {
		m.state = StateError
		events = append(events,
			StatusEvent{State: StateError, Reason: "max reconnect attempts reached"},
			ErrorEvent{Code: CodeMaxReconnect, Message: "max reconnect attempts reached, reload to retry"},
		)
		m.mu.Unlock()
		m.emit(events...)
		m.log.Error().Msg("max reconnect attempts reached")
		return
	}

	delay := m.backoff(m.attempt)
	m.attempt++
	m.state = StateReconnecting
	events = append(events, StatusEvent{State: StateReconnecting, Reason: reason})

	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.intentional || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		ev := m.startLocked()
		m.mu.Unlock()
		m.emit(ev...)
	})
	attempt := m.attempt
	m.mu.Unlock()

	m.emit(events...)
	m.log.Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("scheduling reconnect")
}

// backoff is exponential with jitter: min(base * 2^attempt + jitter, max),
// jitter uniform up to 1s (never past the cap).
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.ReconnectBase << uint(attempt)
	if d > m.opts.ReconnectMax {
		return m.opts.ReconnectMax
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	if d+jitter > m.opts.ReconnectMax {
		return m.opts.ReconnectMax
	}
	return d + jitter
}

// emit must never be called with mu held: a full event channel would
// otherwise deadlock against a consumer calling back into the manager.
func (m *Manager) emit(events ...Event) {
	for _, ev := range events {
		m.events <- ev
	}
}

func writeFrame(conn *websocket.Conn, frame domain.ClientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func closeReason(err error) string {
	status := websocket.CloseStatus(err)
	if status == -1 {
		return err.Error()
	}
	return fmt.Sprintf("closed with status %d", status)
}
