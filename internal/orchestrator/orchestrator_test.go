package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/aivira/jobchat/internal/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a controllable stand-in for the realtime manager: tests
// flip the connected flag and push server events by hand.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []domain.ClientFrame
	events    chan transport.Event
	closed    bool
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{connected: connected, events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect() {}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(content string, msgType domain.MessageType, data *domain.MessageData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, domain.ClientFrame{Type: domain.FrameMessage, Content: content, MessageType: msgType, MessageData: data})
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) sentFrames() []domain.ClientFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ClientFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

// MockAPI mocks the REST fallback surface
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.SessionWithMessages, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionWithMessages), args.Error(1)
}

func (m *MockAPI) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.SessionWithMessages, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionWithMessages), args.Error(1)
}

func (m *MockAPI) ListSessions(ctx context.Context, limit, offset int) (*domain.SessionPage, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionPage), args.Error(1)
}

func (m *MockAPI) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockAPI) SendMessage(ctx context.Context, sessionID uuid.UUID, req domain.SendMessageRequest) (*domain.SendResult, error) {
	args := m.Called(ctx, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SendResult), args.Error(1)
}

func serverSession(step string) domain.ChatSession {
	return domain.ChatSession{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		OwnerRole:     domain.OwnerEmployer,
		Type:          domain.SessionJobCreation,
		Status:        domain.StatusActive,
		Step:          step,
		CollectedData: map[string]any{},
	}
}

func botMsg(sessionID uuid.UUID, msgType domain.MessageType, content string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleBot,
		Type:      msgType,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func startConversation(t *testing.T, api *MockAPI, ft *fakeTransport, res *domain.SessionWithMessages) *Conversation {
	t.Helper()
	api.On("CreateSession", mock.Anything, domain.CreateSessionRequest{SessionType: domain.SessionJobCreation}).
		Return(res, nil).Once()

	c := New(res.Session.OwnerID, domain.OwnerEmployer, domain.SessionJobCreation, api,
		func(uuid.UUID) Transport { return ft },
		Options{SessionWaitTimeout: 200 * time.Millisecond, SessionWaitPoll: 10 * time.Millisecond})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestConversation_StartAdoptsServerHistory(t *testing.T) {
	session := serverSession("welcome")
	welcome := botMsg(session.ID, domain.MessageButtons, "Hi!")

	api := new(MockAPI)
	c := startConversation(t, api, newFakeTransport(false), &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{welcome},
	})

	msgs := c.Messages()
	require.Len(t, msgs, 1, "server history replaces the local seed")
	assert.Equal(t, welcome.ID, msgs[0].ID)
	assert.False(t, msgs[0].Ephemeral)
	assert.Equal(t, session.ID, c.Session().ID)
	assert.Equal(t, InputDisabled, c.InputMode())
}

func TestConversation_StartPromotesSeedWhenServerEmpty(t *testing.T) {
	session := serverSession("welcome")

	api := new(MockAPI)
	c := startConversation(t, api, newFakeTransport(false), &domain.SessionWithMessages{Session: session})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleBot, msgs[0].Role)
	assert.False(t, msgs[0].Ephemeral)
	assert.Equal(t, session.ID, msgs[0].SessionID)
}

func TestConversation_SendOverSocket(t *testing.T) {
	session := serverSession("job_title")
	prompt := botMsg(session.ID, domain.MessageInputText, "What is the job title?")

	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	require.NoError(t, c.Send(context.Background(), "Platform Engineer"))

	// Optimistic copy plus loading placeholder are visible immediately.
	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[1].Pending)
	assert.Equal(t, domain.MessageLoading, msgs[2].Type)
	assert.Equal(t, InputDisabled, c.InputMode())

	frames := ft.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, "Platform Engineer", frames[0].Content)

	// REST must not have been touched on the socket path.
	api.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)

	// Server confirms: ack replaces the pending copy, bot reply replaces the
	// placeholder.
	confirmed := domain.ChatMessage{ID: uuid.New(), SessionID: session.ID, Role: domain.RoleUser, Content: "Platform Engineer", Type: domain.MessageText}
	reply := botMsg(session.ID, domain.MessageInputTextarea, "Describe the role.")
	ft.events <- transport.UserMessageAckEvent{Message: confirmed}
	ft.events <- transport.BotMessageEvent{Message: reply}

	assert.Eventually(t, func() bool {
		msgs := c.Messages()
		if len(msgs) != 3 {
			return false
		}
		return msgs[1].ID == confirmed.ID && !msgs[1].Pending && msgs[2].ID == reply.ID
	}, time.Second, 10*time.Millisecond, "ack and reply must replace, not duplicate")

	assert.Equal(t, InputTextarea, c.InputMode())
}

func TestConversation_SendFallsBackToREST(t *testing.T) {
	session := serverSession("job_title")
	prompt := botMsg(session.ID, domain.MessageInputText, "What is the job title?")

	ft := newFakeTransport(false)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	confirmed := domain.ChatMessage{ID: uuid.New(), SessionID: session.ID, Role: domain.RoleUser, Content: "Platform Engineer", Type: domain.MessageText}
	reply := botMsg(session.ID, domain.MessageInputTextarea, "Describe the role.")
	api.On("SendMessage", mock.Anything, session.ID, mock.AnythingOfType("domain.SendMessageRequest")).
		Return(&domain.SendResult{UserMessage: confirmed, BotMessages: []domain.ChatMessage{reply}}, nil).Once()

	require.NoError(t, c.Send(context.Background(), "Platform Engineer"))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, confirmed.ID, msgs[1].ID)
	assert.False(t, msgs[1].Pending)
	assert.Equal(t, reply.ID, msgs[2].ID)
	assert.Empty(t, ft.sentFrames())
}

func TestConversation_RESTSendAdvancesLocalStep(t *testing.T) {
	session := serverSession("job_requirements")
	prompt := botMsg(session.ID, domain.MessageInputTextarea, "Describe the role and its requirements.")

	ft := newFakeTransport(false)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	confirmed := domain.ChatMessage{ID: uuid.New(), SessionID: session.ID, Role: domain.RoleUser, Content: "Build and run Go services", Type: domain.MessageText}
	reply := botMsg(session.ID, domain.MessageButtons, "What level of experience are you hiring for?")
	api.On("SendMessage", mock.Anything, session.ID, mock.AnythingOfType("domain.SendMessageRequest")).
		Return(&domain.SendResult{UserMessage: confirmed, BotMessages: []domain.ChatMessage{reply}}, nil).Twice()

	require.NoError(t, c.Send(context.Background(), "Build and run Go services"))

	// No session_update frame arrives over REST, so the local session must
	// track the server's transition on its own.
	require.NotNil(t, c.Session())
	assert.Equal(t, "experience_level", c.Session().Step)
	assert.Equal(t, "Build and run Go services", c.Session().CollectedData["job_requirements"])

	// "mid" is far too short for the requirements step; it must be judged
	// against the experience step the flow has moved to.
	require.NoError(t, c.Send(context.Background(), "mid"))
	assert.Equal(t, "location_state", c.Session().Step)
}

func TestConversation_SendValidatesLocally(t *testing.T) {
	session := serverSession("salary_min")
	prompt := botMsg(session.ID, domain.MessageInputNumber, "Minimum salary?")

	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	err := c.Send(context.Background(), "a lot")
	assert.Error(t, err)
	assert.Empty(t, ft.sentFrames())
	assert.Len(t, c.Messages(), 1, "invalid input must not enter the message list")
	assert.Equal(t, InputNumber, c.InputMode())
}

func TestConversation_RESTFailureRollsBackWithRetry(t *testing.T) {
	session := serverSession("job_title")
	prompt := botMsg(session.ID, domain.MessageInputText, "What is the job title?")

	ft := newFakeTransport(false)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	api.On("SendMessage", mock.Anything, session.ID, mock.AnythingOfType("domain.SendMessageRequest")).
		Return(nil, assert.AnError).Once()

	err := c.Send(context.Background(), "Platform Engineer")
	assert.Error(t, err)

	msgs := c.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.MessageError, last.Type)
	require.NotNil(t, last.Data)
	assert.Equal(t, "Platform Engineer", last.Data.RetryAction)
	assert.Equal(t, InputText, c.InputMode(), "error bubble keeps text input usable")

	// Retry replays the recorded content.
	confirmed := domain.ChatMessage{ID: uuid.New(), SessionID: session.ID, Role: domain.RoleUser, Content: "Platform Engineer", Type: domain.MessageText}
	reply := botMsg(session.ID, domain.MessageInputTextarea, "Describe the role.")
	api.On("SendMessage", mock.Anything, session.ID, mock.AnythingOfType("domain.SendMessageRequest")).
		Return(&domain.SendResult{UserMessage: confirmed, BotMessages: []domain.ChatMessage{reply}}, nil).Once()

	require.NoError(t, c.Retry(context.Background()))
	msgs = c.Messages()
	assert.Equal(t, reply.ID, msgs[len(msgs)-1].ID)
}

func TestConversation_ClickButtonWaitsBounded(t *testing.T) {
	api := new(MockAPI)
	c := New(uuid.New(), domain.OwnerEmployer, domain.SessionJobCreation, api,
		func(uuid.UUID) Transport { return newFakeTransport(false) },
		Options{SessionWaitTimeout: 50 * time.Millisecond, SessionWaitPoll: 5 * time.Millisecond})

	// Start never ran, so no session can appear within the wait window.
	start := time.Now()
	err := c.ClickButton(context.Background(), "create_job", "Create a job posting")
	assert.ErrorIs(t, err, ErrSessionNotReady)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestConversation_ClickButtonSendsStructuredReply(t *testing.T) {
	session := serverSession("welcome")
	prompt := botMsg(session.ID, domain.MessageButtons, "How would you like to start?")

	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	require.NoError(t, c.ClickButton(context.Background(), "create_job", "Create a job posting"))

	frames := ft.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, "create_job", frames[0].Content)
	assert.Equal(t, domain.MessageButtonClick, frames[0].MessageType)
	require.NotNil(t, frames[0].MessageData)
	assert.Equal(t, "Create a job posting", frames[0].MessageData.Buttons[0].Label)
}

func TestConversation_StaleSessionEventsIgnored(t *testing.T) {
	session := serverSession("welcome")
	prompt := botMsg(session.ID, domain.MessageButtons, "How would you like to start?")

	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	stale := botMsg(uuid.New(), domain.MessageText, "from another session")
	ft.events <- transport.BotMessageEvent{Message: stale}
	ft.events <- transport.TypingEvent{IsTyping: true}

	assert.Eventually(t, func() bool { return c.Typing() }, time.Second, 10*time.Millisecond)
	for _, m := range c.Messages() {
		assert.NotEqual(t, stale.ID, m.ID)
	}
}

func TestConversation_DeleteSessionCreatesReplacement(t *testing.T) {
	session := serverSession("salary_min")
	prompt := botMsg(session.ID, domain.MessageInputNumber, "Minimum salary?")

	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{
		Session:  session,
		Messages: []domain.ChatMessage{prompt},
	})

	replacement := serverSession("welcome")
	welcome := botMsg(replacement.ID, domain.MessageButtons, "Hi!")

	api.On("DeleteSession", mock.Anything, session.ID).Return(nil).Once()
	api.On("CreateSession", mock.Anything, domain.CreateSessionRequest{SessionType: domain.SessionJobCreation, ForceNew: true}).
		Return(&domain.SessionWithMessages{Session: replacement, Messages: []domain.ChatMessage{welcome}}, nil).Once()

	require.NoError(t, c.DeleteSession(context.Background()))

	assert.Equal(t, replacement.ID, c.Session().ID)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, welcome.ID, msgs[0].ID)
	assert.True(t, ft.closed, "old transport must be torn down")
	api.AssertExpectations(t)
}

func TestConversation_SwitchSession(t *testing.T) {
	session := serverSession("welcome")
	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{Session: session})

	other := serverSession("preview")
	history := []domain.ChatMessage{botMsg(other.ID, domain.MessagePreview, "Here is your job posting so far.")}
	api.On("GetSession", mock.Anything, other.ID).
		Return(&domain.SessionWithMessages{Session: other, Messages: history}, nil).Once()

	require.NoError(t, c.SwitchSession(context.Background(), other.ID))

	assert.Equal(t, other.ID, c.Session().ID)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, history[0].ID, msgs[0].ID)
	assert.True(t, ft.closed)
	assert.Equal(t, InputDisabled, c.InputMode())
}

func TestConversation_TransportErrorsSurfaceAsLastError(t *testing.T) {
	session := serverSession("welcome")
	ft := newFakeTransport(true)
	api := new(MockAPI)
	c := startConversation(t, api, ft, &domain.SessionWithMessages{Session: session})

	ft.events <- transport.StatusEvent{State: transport.StateError}
	ft.events <- transport.ErrorEvent{Code: transport.CodeMaxReconnect, Message: "max reconnect attempts reached"}

	assert.Eventually(t, func() bool {
		e := c.LastError()
		return e != nil && e.Code == transport.CodeMaxReconnect
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.StateError, c.TransportState())
}

func TestInputModeForIsTotal(t *testing.T) {
	tests := []struct {
		t    domain.MessageType
		want InputMode
	}{
		{domain.MessageText, InputText},
		{domain.MessageInputText, InputText},
		{domain.MessageError, InputText},
		{domain.MessageInputTextarea, InputTextarea},
		{domain.MessageInputNumber, InputNumber},
		{domain.MessageInputDate, InputDate},
		{domain.MessageFileUpload, InputFile},
		{domain.MessageButtons, InputDisabled},
		{domain.MessageBoolean, InputDisabled},
		{domain.MessageMultiSelect, InputDisabled},
		{domain.MessageLoading, InputDisabled},
		{domain.MessagePreview, InputDisabled},
		{domain.MessageButtonClick, InputDisabled},
		{domain.MessageType("unknown"), InputDisabled},
	}
	for _, tt := range tests {
		t.Run(string(tt.t), func(t *testing.T) {
			assert.Equal(t, tt.want, InputModeFor(tt.t))
		})
	}
}
