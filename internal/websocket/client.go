package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"helpconv/internal/conversation"
	"helpconv/internal/metrics"
	"helpconv/internal/protocol"
	"helpconv/internal/session"
	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

// Handshake failure reasons sent in sessionError.
const (
	ReasonInvalidSession = "Invalid session ID"
	ReasonNotAuthorized  = "Not Authorized"
)

// ClientOptions tunes the protocol engine of one connection.
type ClientOptions struct {
	Location  *time.Location // zone of wire timestamps
	RateLimit rate.Limit     // inbound frames per second; zero disables limiting
	Burst     int
}

type convRef struct {
	studentID string
	number    int
}

// Client is the protocol engine of one connection. It starts
// unauthenticated, accepts only a Session frame until a token resolves to
// an authorized principal, and from then on serves requests and relays
// model events filtered by its subscriptions.
//
// Lock order: the container lock, when held, is always taken before
// Client.mu. No method holds Client.mu while calling into the container.
type Client struct {
	conn      interfaces.Connection
	container *conversation.Container
	sessions  interfaces.SessionManager
	enc       protocol.Encoder
	limiter   *rate.Limiter
	log       zerolog.Logger
	metrics   *metrics.Metrics
	onClose   func(*Client)

	mu            sync.Mutex
	authenticated bool
	closed        bool
	principal     types.Principal
	students      map[string]struct{}
	convs         map[convRef]struct{}

	closeOnce sync.Once
}

var _ conversation.Listener = (*Client)(nil)

// NewClient creates the engine for conn. onClose, if set, runs once after
// the client has been detached from the container.
func NewClient(conn interfaces.Connection, container *conversation.Container, sessions interfaces.SessionManager,
	opts ClientOptions, log zerolog.Logger, m *metrics.Metrics, onClose func(*Client)) *Client {
	c := &Client{
		conn:      conn,
		container: container,
		sessions:  sessions,
		enc:       protocol.NewEncoder(opts.Location),
		log:       log.With().Str("component", "client").Str("conn_id", conn.ID()).Logger(),
		metrics:   m,
		onClose:   onClose,
		students:  make(map[string]struct{}),
		convs:     make(map[convRef]struct{}),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.conn.ID()
}

// Principal returns the authenticated identity and whether there is one.
func (c *Client) Principal() (types.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal, c.authenticated
}

// Subscriptions returns the number of subscribed students and conversations.
func (c *Client) Subscriptions() (students, convs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.students), len(c.convs)
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// logger returns the client's logger, which gains the user ID once the
// handshake succeeds.
func (c *Client) logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.log
	return &log
}

func (c *Client) drop(reason string, err error, msg string) {
	c.metrics.FrameDropped(reason)
	c.logger().Warn().Err(err).Str("reason", reason).Msg(msg)
}

// HandleFrame processes one inbound text frame. Protocol errors are logged
// and the frame dropped; only handshake failures are answered.
func (c *Client) HandleFrame(ctx context.Context, text string) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.drop("rate_limited", nil, "Inbound frame rate exceeded")
		return
	}
	f, err := protocol.Parse(text)
	if err != nil {
		c.drop("malformed", err, "Dropping malformed frame")
		return
	}

	if f.Kind == protocol.KindSession {
		c.metrics.Frame(string(f.Kind))
		c.handshake(ctx, f.Token)
		return
	}
	if !c.isAuthenticated() {
		c.drop("unauthenticated", nil, "Dropping frame before session handshake")
		return
	}
	c.metrics.Frame(string(f.Kind))

	switch f.Kind {
	case protocol.KindOpenStudent:
		c.openStudent(f.StudentID)
	case protocol.KindCloseStudent:
		c.closeStudent(f.StudentID)
	case protocol.KindOpenConv:
		c.openConversation(convRef{f.StudentID, f.ConvNbr})
	case protocol.KindCloseConv:
		c.closeConversation(convRef{f.StudentID, f.ConvNbr})
	case protocol.KindGetMessage:
		c.getMessage(ctx, conversation.MessageRef{StudentID: f.StudentID, ConversationNumber: f.ConvNbr, MessageNumber: f.MsgNbr})
	case protocol.KindPostMessage:
		c.postMessage(ctx, f.Post)
	case protocol.KindUpdMessage:
		c.updateMessage(ctx, f.UpdMessage)
	case protocol.KindUpdConv:
		c.updateConversation(ctx, f.UpdConv)
	}
}

func (c *Client) handshake(ctx context.Context, token string) {
	if c.isAuthenticated() {
		c.drop("duplicate_handshake", nil, "Ignoring repeated session handshake")
		return
	}

	p, err := c.sessions.Validate(ctx, token)
	if err != nil {
		if !session.IsAuthError(err) {
			c.logger().Error().Err(err).Msg("Session lookup failed")
		}
		c.logger().Info().Err(err).Msg("Rejected session handshake")
		c.metrics.Handshake("invalid")
		c.send(c.enc.SessionError(ReasonInvalidSession))
		return
	}
	if err := c.sessions.Authorize(p); err != nil {
		c.logger().Info().Err(err).Str("user_id", p.UserID).Msg("Rejected session handshake")
		c.metrics.Handshake("unauthorized")
		c.send(c.enc.SessionError(ReasonNotAuthorized))
		return
	}

	registered := false
	c.container.Atomically(func(r *conversation.Reader) {
		c.mu.Lock()
		if c.closed || c.authenticated {
			c.mu.Unlock()
			return
		}
		c.authenticated = true
		c.principal = p
		c.log = c.log.With().Str("user_id", p.UserID).Logger()
		c.mu.Unlock()

		r.AddListener(c)
		registered = true
		c.send(c.enc.AllConvLists(r.Roster()))
	})
	if !registered {
		return
	}
	c.metrics.Handshake("ok")
	c.logger().Info().Str("role", string(p.Role)).Msg("Client authenticated")
}

func (c *Client) openStudent(studentID string) {
	c.container.Atomically(func(r *conversation.Reader) {
		convs, err := r.StudentConversations(studentID)
		if err != nil {
			c.drop("unknown_target", err, "Cannot open student")
			return
		}
		c.mu.Lock()
		if _, dup := c.students[studentID]; dup {
			c.mu.Unlock()
			c.drop("duplicate_subscription", nil, "Student already open")
			return
		}
		c.students[studentID] = struct{}{}
		c.mu.Unlock()

		c.send(c.enc.StuConvList(studentID, convs))
	})
}

func (c *Client) closeStudent(studentID string) {
	c.mu.Lock()
	_, ok := c.students[studentID]
	delete(c.students, studentID)
	c.mu.Unlock()
	if !ok {
		c.drop("not_subscribed", nil, "Student was not open")
	}
}

func (c *Client) openConversation(ref convRef) {
	c.container.Atomically(func(r *conversation.Reader) {
		msgs, err := r.ConversationMessages(ref.studentID, ref.number)
		if err != nil {
			c.drop("unknown_target", err, "Cannot open conversation")
			return
		}
		c.mu.Lock()
		if _, dup := c.convs[ref]; dup {
			c.mu.Unlock()
			c.drop("duplicate_subscription", nil, "Conversation already open")
			return
		}
		c.convs[ref] = struct{}{}
		c.mu.Unlock()

		c.send(c.enc.ConvMsgList(ref.studentID, ref.number, msgs))
	})
}

func (c *Client) closeConversation(ref convRef) {
	c.mu.Lock()
	_, ok := c.convs[ref]
	delete(c.convs, ref)
	c.mu.Unlock()
	if !ok {
		c.drop("not_subscribed", nil, "Conversation was not open")
	}
}

func (c *Client) getMessage(ctx context.Context, ref conversation.MessageRef) {
	c.container.Atomically(func(r *conversation.Reader) {
		info, err := r.Message(ctx, ref)
		if err != nil {
			c.drop("unknown_target", err, "Cannot get message")
			return
		}
		c.send(c.enc.ConvMsg(info))
	})
}

// postMessage drives Container.Post. A client that starts a conversation
// for a student nobody has written to yet is subscribed to that student
// first, so it sees the conversation it created.
func (c *Client) postMessage(ctx context.Context, req *types.PostMessageRequest) {
	post, err := protocol.ToPost(req)
	if err != nil {
		c.drop("malformed", err, "Invalid post")
		return
	}

	autoSubscribed := false
	if post.Subject != "" {
		if _, known := c.container.StudentKey(post.Student.StudentID); !known {
			c.mu.Lock()
			if _, ok := c.students[post.Student.StudentID]; !ok {
				c.students[post.Student.StudentID] = struct{}{}
				autoSubscribed = true
			}
			c.mu.Unlock()
		}
	}

	m, err := c.container.Post(ctx, post)
	if err != nil {
		if autoSubscribed {
			c.mu.Lock()
			delete(c.students, post.Student.StudentID)
			c.mu.Unlock()
		}
		c.drop("rejected", err, "Post failed")
		return
	}
	c.logger().Debug().
		Str("student_id", post.Student.StudentID).
		Int("conv", m.Ref().ConversationNumber).
		Int("msg", m.Number()).
		Msg("Message posted")
}

func (c *Client) updateMessage(ctx context.Context, req *types.UpdMessageRequest) {
	u, err := protocol.ToMessageUpdate(req, c.enc.Loc)
	if err != nil {
		c.drop("malformed", err, "Invalid message update")
		return
	}
	if err := c.container.UpdateMessage(ctx, u.Ref, u.State, u.WhenRead); err != nil {
		c.drop("rejected", err, "Message update failed")
	}
}

func (c *Client) updateConversation(ctx context.Context, req *types.UpdConvRequest) {
	if err := c.container.UpdateSubject(ctx, req.StudentID, req.ConvNbr, req.Subject); err != nil {
		c.drop("rejected", err, "Conversation update failed")
	}
}

// send queues a push. It may run under the container lock, so a failing
// connection is torn down from another goroutine.
func (c *Client) send(p protocol.Push) {
	if err := c.conn.WriteJSON(p); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			c.metrics.SlowClient()
			c.logger().Warn().Str("key", p.Key).Msg("Client too slow, closing")
		} else {
			c.logger().Debug().Err(err).Str("key", p.Key).Msg("Push failed, closing")
		}
		go c.Close()
		return
	}
	c.metrics.Push(p.Key)
}

func (c *Client) watchingStudent(studentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.students[studentID]
	return ok
}

func (c *Client) watchingMessage(ref conversation.MessageRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.students[ref.StudentID]; ok {
		return true
	}
	_, ok := c.convs[convRef{ref.StudentID, ref.ConversationNumber}]
	return ok
}

// StudentListAdded implements conversation.Listener.
func (c *Client) StudentListAdded(list conversation.ListSummary) {
	c.send(c.enc.AddStuConvList(list))
}

// ConversationAdded implements conversation.Listener.
func (c *Client) ConversationAdded(conv conversation.ConversationSummary) {
	if c.watchingStudent(conv.Student.StudentID) {
		c.send(c.enc.ConvAdded(conv))
	}
}

// ConversationChanged implements conversation.Listener.
func (c *Client) ConversationChanged(list conversation.ListSummary, conv conversation.ConversationSummary) {
	if c.watchingStudent(conv.Student.StudentID) {
		c.send(c.enc.ConvUpdated(list, conv))
		return
	}
	c.send(c.enc.StuConvListUpdated(list))
}

// SubjectChanged implements conversation.Listener.
func (c *Client) SubjectChanged(conv conversation.ConversationSummary) {
	if c.watchingStudent(conv.Student.StudentID) {
		c.send(c.enc.SubjectUpdated(conv))
	}
}

// MessageAdded implements conversation.Listener.
func (c *Client) MessageAdded(list conversation.ListSummary, conv conversation.ConversationSummary, msg conversation.MessageInfo) {
	if c.watchingMessage(msg.MessageRef) {
		c.send(c.enc.MsgAdded(list, conv, msg))
		return
	}
	c.send(c.enc.StuConvListUpdated(list))
}

// MessageStateUpdated implements conversation.Listener.
func (c *Client) MessageStateUpdated(msg conversation.MessageInfo) {
	if c.watchingMessage(msg.MessageRef) {
		c.send(c.enc.MsgStateUpdated(msg))
	}
}

// MessageWhenReadUpdated implements conversation.Listener.
func (c *Client) MessageWhenReadUpdated(msg conversation.MessageInfo) {
	if c.watchingMessage(msg.MessageRef) {
		c.send(c.enc.MsgWhenReadUpdated(msg))
	}
}

// Close detaches the client from the container and closes its connection.
// It must not be called while the container lock is held.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.container.RemoveListener(c)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.logger().Debug().Msg("Client closed")
	})
}
