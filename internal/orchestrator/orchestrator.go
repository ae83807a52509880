// Package orchestrator holds the authoritative local view of one
// conversation: the rendered message list, the merge of optimistic and
// server-confirmed messages, and the choice between the realtime transport
// and the REST fallback for each send.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/aivira/jobchat/internal/steps"
	"github.com/aivira/jobchat/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotReady is returned when a structured control is used before
// session creation finishes, after the bounded wait expires.
var ErrSessionNotReady = fmt.Errorf("session is not ready yet, try again")

// Transport is the realtime connection surface the conversation drives.
// Satisfied by *transport.Manager.
type Transport interface {
	Connect()
	Disconnect()
	IsConnected() bool
	Send(content string, msgType domain.MessageType, data *domain.MessageData) error
	Events() <-chan transport.Event
}

// API is the REST surface the conversation falls back to. Satisfied by
// *restclient.Client.
type API interface {
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionWithMessages, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.SessionWithMessages, error)
	ListSessions(ctx context.Context, limit, offset int) (*domain.SessionPage, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	SendMessage(ctx context.Context, sessionID uuid.UUID, req domain.SendMessageRequest) (*domain.SendResult, error)
}

// TransportFactory builds a transport scoped to one session id. The
// conversation creates a fresh one on every session switch.
type TransportFactory func(sessionID uuid.UUID) Transport

// Options tunes the bounded session-ready wait for structured controls.
type Options struct {
	SessionWaitTimeout time.Duration
	SessionWaitPoll    time.Duration
	Logger             zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.SessionWaitTimeout <= 0 {
		o.SessionWaitTimeout = 5 * time.Second
	}
	if o.SessionWaitPoll <= 0 {
		o.SessionWaitPoll = 100 * time.Millisecond
	}
}

// Conversation is the UI-facing controller for one mounted chat view. The
// owner is passed in explicitly; there is no global auth state.
type Conversation struct {
	ownerID      uuid.UUID
	role         domain.OwnerRole
	sessionType  domain.SessionType
	api          API
	newTransport TransportFactory
	table        *steps.Table
	opts         Options
	log          zerolog.Logger

	mu             sync.Mutex
	session        *domain.ChatSession
	messages       []domain.ChatMessage
	transport      Transport
	transportState transport.State
	typing         bool
	lastError      *transport.Error
	loopCancel     context.CancelFunc
}

// New creates a conversation controller. Call Start to create or resume the
// session.
func New(ownerID uuid.UUID, role domain.OwnerRole, sessionType domain.SessionType, api API, factory TransportFactory, opts Options) *Conversation {
	opts.applyDefaults()
	return &Conversation{
		ownerID:      ownerID,
		role:         role,
		sessionType:  sessionType,
		api:          api,
		newTransport: factory,
		table:        steps.ForFlow(sessionType),
		opts:         opts,
		log:          opts.Logger.With().Str("owner_id", ownerID.String()).Logger(),
		transportState: transport.StateDisconnected,
	}
}

// Start seeds the welcome message immediately, then creates or resumes the
// session over REST and wires up a transport scoped to it. Local seeds are
// replaced, never duplicated, by the server's own welcome messages.
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	c.messages = c.seedWelcome()
	c.mu.Unlock()

	res, err := c.api.CreateSession(ctx, domain.CreateSessionRequest{SessionType: c.sessionType})
	if err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	c.adoptSession(res)
	return nil
}

// seedWelcome synthesizes the flow's first bot message client-side so the
// view never shows an empty loading state.
func (c *Conversation) seedWelcome() []domain.ChatMessage {
	question, msgType, data := c.table.Prompt(c.table.Start(), nil)
	return []domain.ChatMessage{{
		ID:        uuid.New(),
		Role:      domain.RoleBot,
		Content:   question,
		Type:      msgType,
		Data:      data,
		Ephemeral: true,
		CreatedAt: time.Now(),
	}}
}

// adoptSession installs a session, its server-side history, and a fresh
// transport, tearing down any previous one first.
func (c *Conversation) adoptSession(res *domain.SessionWithMessages) {
	c.mu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	old := c.transport
	c.transport = nil
	c.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	session := res.Session
	t := c.newTransport(session.ID)

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.session = &session
	if len(res.Messages) > 0 {
		c.messages = res.Messages
	} else {
		// Server had nothing; promote the local seeds to real entries.
		for i := range c.messages {
			c.messages[i].Ephemeral = false
			c.messages[i].SessionID = session.ID
		}
	}
	c.transport = t
	c.loopCancel = cancel
	c.mu.Unlock()

	go c.eventLoop(loopCtx, t, session.ID)
	t.Connect()
}

// Close tears down the conversation: the event loop stops listening and the
// transport finishes its own lifecycle.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
}

// Messages returns a snapshot of the rendered message list.
func (c *Conversation) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Session returns the current session, or nil before Start completes.
func (c *Conversation) Session() *domain.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// TransportState returns the last observed connection state.
func (c *Conversation) TransportState() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transportState
}

// Typing reports whether the bot typing indicator is active.
func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// LastError returns the most recent transport-level error, if any.
func (c *Conversation) LastError() *transport.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// InputMode returns the affordance for the latest bot message.
func (c *Conversation) InputMode() InputMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == domain.RoleBot {
			return InputModeFor(c.messages[i].Type)
		}
	}
	return InputText
}

// Send submits free-form user input. Step validation blocks locally before
// any network call; the send then goes over the socket when connected, REST
// otherwise.
func (c *Conversation) Send(ctx context.Context, content string) error {
	c.mu.Lock()
	var step string
	active := c.session != nil && c.session.Status == domain.StatusActive
	if active {
		step = c.session.Step
	}
	c.mu.Unlock()

	if active {
		if err := c.table.ValidateAnswer(step, content); err != nil {
			return err
		}
	}
	return c.dispatch(ctx, content, domain.MessageText, nil)
}

// ClickButton submits a structured choice. If the session is still being
// created it waits, bounded, for the session id before dispatching; a click
// is never silently dropped.
func (c *Conversation) ClickButton(ctx context.Context, buttonID, label string) error {
	if err := c.waitForSession(ctx); err != nil {
		return err
	}
	data := &domain.MessageData{Buttons: []domain.Button{{ID: buttonID, Label: label}}}
	return c.dispatch(ctx, buttonID, domain.MessageButtonClick, data)
}

// AttachFile submits an uploaded file's public URL as a file message.
func (c *Conversation) AttachFile(ctx context.Context, fileURL, fileName string) error {
	if err := c.waitForSession(ctx); err != nil {
		return err
	}
	data := &domain.MessageData{FileURL: fileURL, FileName: fileName}
	return c.dispatch(ctx, fileName, domain.MessageFileUpload, data)
}

// Retry re-sends the operation recorded on the most recent error bubble.
func (c *Conversation) Retry(ctx context.Context) error {
	c.mu.Lock()
	var retry string
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Type == domain.MessageError && m.Data != nil && m.Data.RetryAction != "" {
			retry = m.Data.RetryAction
			break
		}
	}
	c.mu.Unlock()

	if retry == "" {
		return fmt.Errorf("nothing to retry")
	}
	return c.dispatch(ctx, retry, domain.MessageText, nil)
}

// dispatch implements the optimistic send flow: pending user message plus a
// loading placeholder, socket-first with REST fallback, rollback on failure.
func (c *Conversation) dispatch(ctx context.Context, content string, msgType domain.MessageType, data *domain.MessageData) error {
	now := time.Now()
	userMsg := domain.ChatMessage{
		ID:        uuid.New(),
		Role:      domain.RoleUser,
		Content:   content,
		Type:      msgType,
		Data:      data,
		Pending:   true,
		CreatedAt: now,
	}
	loading := domain.ChatMessage{
		ID:        uuid.New(),
		Role:      domain.RoleBot,
		Type:      domain.MessageLoading,
		Ephemeral: true,
		CreatedAt: now,
	}

	c.mu.Lock()
	session := c.session
	t := c.transport
	if session != nil {
		userMsg.SessionID = session.ID
		loading.SessionID = session.ID
	}
	c.messages = append(c.messages, userMsg, loading)
	c.mu.Unlock()

	if t != nil && t.IsConnected() {
		if err := t.Send(content, msgType, data); err != nil {
			c.rollback(content)
			return err
		}
		// Reconciliation happens when the ack and bot frames arrive.
		return nil
	}

	if session == nil {
		c.rollback(content)
		return ErrSessionNotReady
	}

	res, err := c.api.SendMessage(ctx, session.ID, domain.SendMessageRequest{
		Content:     content,
		MessageType: msgType,
		MessageData: data,
	})
	if err != nil {
		c.rollback(content)
		c.log.Error().Err(err).Msg("fallback send failed")
		return err
	}

	c.mu.Lock()
	c.advanceStepLocked(session.ID, content, msgType, data)
	c.messages = filterPending(c.messages)
	c.messages = filterEphemeral(c.messages)
	c.messages = append(c.messages, res.UserMessage)
	c.messages = append(c.messages, res.BotMessages...)
	c.mu.Unlock()
	return nil
}

// advanceStepLocked mirrors the server's step transition after a REST send,
// which returns messages but no session. Without it the next local validation
// would run against the previous step. The socket path gets the authoritative
// session from session_update frames instead.
func (c *Conversation) advanceStepLocked(sessionID uuid.UUID, content string, msgType domain.MessageType, data *domain.MessageData) {
	if c.session == nil || c.session.ID != sessionID || c.session.Status != domain.StatusActive {
		return
	}

	if cfg, ok := c.table.Get(c.session.Step); ok && cfg.Field != "" {
		if c.session.CollectedData == nil {
			c.session.CollectedData = map[string]any{}
		}
		switch {
		case msgType == domain.MessageFileUpload && data != nil:
			c.session.CollectedData[cfg.Field] = data.FileURL
		case cfg.Type == domain.MessageInputNumber:
			if n, err := strconv.Atoi(content); err == nil {
				c.session.CollectedData[cfg.Field] = n
			} else {
				c.session.CollectedData[cfg.Field] = content
			}
		default:
			c.session.CollectedData[cfg.Field] = content
		}
	}

	next := c.table.NextStep(c.session.Step, content, c.session.CollectedData)
	c.session.Step = next
	if c.table.IsTerminal(next) {
		c.session.Status = domain.StatusCompleted
	}
}

// rollback removes the loading placeholder after a failed send and leaves an
// inline error bubble carrying the retry action.
func (c *Conversation) rollback(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = filterEphemeral(c.messages)
	c.messages = append(c.messages, domain.ChatMessage{
		ID:        uuid.New(),
		Role:      domain.RoleBot,
		Content:   "Something went wrong sending your message.",
		Type:      domain.MessageError,
		Data:      &domain.MessageData{RetryAction: content},
		Ephemeral: true,
		CreatedAt: time.Now(),
	})
}

// waitForSession blocks, bounded, until Start has produced a session id.
func (c *Conversation) waitForSession(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.SessionWaitTimeout)
	for {
		c.mu.Lock()
		ready := c.session != nil
		c.mu.Unlock()
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrSessionNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.SessionWaitPoll):
		}
	}
}

// SwitchSession selects a past session: the current transport is torn down
// and a new one is created scoped to the selected id.
func (c *Conversation) SwitchSession(ctx context.Context, sessionID uuid.UUID) error {
	res, err := c.api.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to switch session: %w", err)
	}
	c.adoptSession(res)
	return nil
}

// DeleteSession deletes the current session and immediately creates a fresh
// one, so the view is never left pointing at a deleted session.
func (c *Conversation) DeleteSession(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ErrSessionNotReady
	}

	if err := c.api.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	c.mu.Lock()
	c.session = nil
	c.messages = c.seedWelcome()
	c.mu.Unlock()

	res, err := c.api.CreateSession(ctx, domain.CreateSessionRequest{SessionType: c.sessionType, ForceNew: true})
	if err != nil {
		return fmt.Errorf("failed to create replacement session: %w", err)
	}
	c.adoptSession(res)
	return nil
}

// eventLoop consumes one transport's events until the conversation moves to
// another session. Frames scoped to a different session id are ignored, so a
// stale transport can finish its lifecycle without corrupting the view.
func (c *Conversation) eventLoop(ctx context.Context, t Transport, sessionID uuid.UUID) {
	events := t.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.handleEvent(ev, sessionID)
		}
	}
}

func (c *Conversation) handleEvent(ev transport.Event, sessionID uuid.UUID) {
	switch e := ev.(type) {
	case transport.StatusEvent:
		c.mu.Lock()
		c.transportState = e.State
		c.mu.Unlock()

	case transport.ConnectedEvent:
		c.log.Debug().Str("session_id", e.SessionID.String()).Msg("realtime connected")

	case transport.TypingEvent:
		c.mu.Lock()
		c.typing = e.IsTyping
		c.mu.Unlock()

	case transport.UserMessageAckEvent:
		if e.Message.SessionID != sessionID {
			return
		}
		c.mu.Lock()
		c.messages = filterPending(c.messages)
		c.messages = append(c.messages, e.Message)
		c.mu.Unlock()

	case transport.BotMessageEvent:
		if e.Message.SessionID != sessionID {
			return
		}
		c.mu.Lock()
		c.messages = filterEphemeral(c.messages)
		c.messages = append(c.messages, e.Message)
		c.mu.Unlock()

	case transport.SessionUpdateEvent:
		if e.Session.ID != sessionID {
			return
		}
		c.mu.Lock()
		session := e.Session
		c.session = &session
		c.mu.Unlock()

	case transport.ErrorEvent:
		switch e.Code {
		case transport.CodeConnectionError, transport.CodeMaxReconnect:
			c.mu.Lock()
			c.lastError = &transport.Error{Code: e.Code, Message: e.Message}
			c.mu.Unlock()
			c.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("transport error")
		default:
			// Server-reported application error: render inline with retry.
			c.mu.Lock()
			c.messages = filterEphemeral(c.messages)
			c.messages = append(c.messages, domain.ChatMessage{
				ID:        uuid.New(),
				SessionID: sessionID,
				Role:      domain.RoleBot,
				Content:   e.Message,
				Type:      domain.MessageError,
				Data:      &domain.MessageData{RetryAction: lastUserContent(c.messages)},
				Ephemeral: true,
				CreatedAt: time.Now(),
			})
			c.mu.Unlock()
		}
	}
}

// filterPending drops optimistic user messages; called before appending the
// server-confirmed copy so acks replace rather than duplicate.
func filterPending(msgs []domain.ChatMessage) []domain.ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if !m.Pending {
			out = append(out, m)
		}
	}
	return out
}

// filterEphemeral drops local placeholders (loading, seeded welcome, error
// bubbles) once a real bot message arrives.
func filterEphemeral(msgs []domain.ChatMessage) []domain.ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if !m.Ephemeral {
			out = append(out, m)
		}
	}
	return out
}

func lastUserContent(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
