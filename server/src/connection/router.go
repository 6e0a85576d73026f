package connection

import (
	"context"
	"errors"
	"time"

	"niketsu-sync/server/src/logger"
	"niketsu-sync/server/src/metadata"
	"niketsu-sync/server/src/protocol"
	"niketsu-sync/server/src/room"
)

// errorSendTimeout bounds how long an error reply may block the read
// loop; it is a single unicast, so it gets no more than the budget of
// one broadcast send.
const errorSendTimeout = 800 * time.Millisecond

// Engine is the narrow slice of room.Engine a Conn drives; kept as an
// interface so router tests can run against a real *room.Engine
// without pulling in a websocket.
type Engine interface {
	Join(roomID, username, avatar string, conn room.Sender, opts room.RoomOptions) string
	Leave(roomID, userID string)
	GetState(roomID, userID string, opts room.RoomOptions)
	UpdateVideo(roomID string, meta room.VideoMetadata)
	Play(roomID, userID string)
	Pause(roomID, userID string, clientTime *float64)
	Seek(roomID, userID string, targetTime float64)
	SeekReady(roomID, userID string, epoch uint64)
	BufferStart(roomID, userID string)
	BufferEnd(roomID, userID string)
	Chat(roomID, userID, message string, replyTo *string, now time.Time)
	Typing(roomID, userID string, isTyping bool)
	Ping(roomID, userID string, currentTime float64, pingID *string, syncing bool)
}

// Conn drives one client connection: decode, rate-limit, dispatch to
// the room engine, and implement room.Sender for engine-originated
// broadcasts. It never holds room/user state itself beyond the ids
// handed back by Join, matching the teacher's workers-hold-only-ids
// discipline.
type Conn struct {
	transport Transport
	engine    Engine
	extractor metadata.Extractor
	opts      room.RoomOptions
	limiter   *rateLimiter

	roomID string
	userID string
	joined bool

	stop chan struct{}
}

// NewConn wires a transport to a room engine. extractor may be nil,
// in which case video_change falls back to the client-supplied title
// and an unknown format/duration.
func NewConn(transport Transport, engine Engine, extractor metadata.Extractor, opts room.RoomOptions) *Conn {
	return &Conn{
		transport: transport,
		engine:    engine,
		extractor: extractor,
		opts:      opts,
		limiter:   newRateLimiter(),
		stop:      make(chan struct{}),
	}
}

// Send implements room.Sender by forwarding to the underlying
// transport, letting the room package broadcast to this connection
// without knowing it is a websocket.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	return c.transport.Write(ctx, payload)
}

// Serve reads frames until the connection closes or errors, resetting
// the rate-limit window once a second in the background. It always
// leaves the room (if joined) before returning.
func (c *Conn) Serve(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				c.limiter.Reset()
			case <-c.stop:
				return
			}
		}
	}()

	defer close(c.stop)
	defer c.leave()

	for {
		payload, err := c.transport.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				c.sendError(ctx, "frame exceeds maximum size")
				continue
			}
			return
		}
		c.handleFrame(ctx, payload)
	}
}

// sendError unicasts a protocol.Error reply without tearing down the
// connection; decode failures and general-bucket rate-limit rejects
// are recoverable client mistakes, not transport failures.
func (c *Conn) sendError(ctx context.Context, message string) {
	payload, err := protocol.Marshal(&protocol.Error{Message: message})
	if err != nil {
		logger.Errorw("failed to encode error frame", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, errorSendTimeout)
	defer cancel()
	if err := c.transport.Write(sendCtx, payload); err != nil {
		logger.Warnw("failed to deliver error frame", "error", err)
	}
}

func (c *Conn) leave() {
	if c.joined {
		c.engine.Leave(c.roomID, c.userID)
	}
}

func (c *Conn) handleFrame(ctx context.Context, payload []byte) {
	message, err := protocol.Unmarshal(payload)
	if err != nil {
		logger.Warnw("failed to decode client frame", "error", err)
		c.sendError(ctx, "malformed message")
		return
	}

	if _, ok := message.(*protocol.Unknown); ok {
		return
	}

	if !c.preJoinAllowed(message) {
		return
	}

	messageType := string(message.Type())
	if !c.limiter.Allow(messageType) {
		if !isHighFrequency(messageType) {
			c.sendError(ctx, "rate limit exceeded")
		}
		return
	}

	c.dispatch(message)
}

// preJoinAllowed implements spec §4.6's pre-join gate: only join,
// ping and get_state may be handled before a successful join.
func (c *Conn) preJoinAllowed(message protocol.Message) bool {
	if c.joined {
		return true
	}
	switch message.Type() {
	case protocol.JoinType, protocol.PingType, protocol.GetStateType:
		return true
	default:
		return false
	}
}

func (c *Conn) dispatch(message protocol.Message) {
	switch m := message.(type) {
	case *protocol.Join:
		c.handleJoin(m)
	case *protocol.GetState:
		if c.joined {
			c.engine.GetState(c.roomID, c.userID, c.opts)
		}
	case *protocol.Play:
		c.engine.Play(c.roomID, c.userID)
	case *protocol.Pause:
		c.engine.Pause(c.roomID, c.userID, m.Time)
	case *protocol.Seek:
		c.engine.Seek(c.roomID, c.userID, m.Time)
	case *protocol.SeekReady:
		c.engine.SeekReady(c.roomID, c.userID, m.SeekEpoch)
	case *protocol.BufferStart:
		c.engine.BufferStart(c.roomID, c.userID)
	case *protocol.BufferEnd:
		c.engine.BufferEnd(c.roomID, c.userID)
	case *protocol.Chat:
		c.engine.Chat(c.roomID, c.userID, m.Message, m.ReplyTo, time.Now())
	case *protocol.Typing:
		c.engine.Typing(c.roomID, c.userID, m.IsTyping)
	case *protocol.VideoChange:
		go c.handleVideoChange(m)
	case *protocol.Ping:
		c.engine.Ping(c.roomID, c.userID, m.CurrentTime, m.PingID, m.Syncing)
	}
}

func (c *Conn) handleJoin(m *protocol.Join) {
	if c.joined {
		return
	}
	// room_id is carried out of band by the caller (e.g. the HTTP path
	// the websocket was accepted on); SetRoom must be called before
	// Serve starts reading for this to resolve.
	c.userID = c.engine.Join(c.roomID, m.Username, m.Avatar, c, c.opts)
	c.joined = true
}

// SetRoom assigns the room this connection belongs to. Must be called
// before Serve, typically derived from the request path.
func (c *Conn) SetRoom(roomID string) {
	c.roomID = roomID
}

// handleVideoChange resolves metadata off the hot path (a slow or
// unreachable extractor must never stall message dispatch for this
// connection) before applying the update_video reset.
func (c *Conn) handleVideoChange(m *protocol.VideoChange) {
	title := ""
	if m.Title != nil {
		title = *m.Title
	}
	format := ""
	var duration float64

	if c.extractor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		info, err := c.extractor.Extract(ctx, m.URL)
		cancel()
		if err != nil {
			logger.Warnw("metadata extraction failed, using client-supplied fields", "url", m.URL, "error", err)
		} else {
			if title == "" {
				title = info.Title
			}
			format = info.Format
			duration = info.Duration
		}
	}

	meta := room.VideoMetadata{
		URL:      m.URL,
		Title:    title,
		Format:   format,
		Duration: duration,
	}
	if m.SubtitleURL != nil {
		meta.SubtitleURL = *m.SubtitleURL
	}
	if m.UserAgent != nil {
		meta.UserAgent = *m.UserAgent
	}
	if m.Referer != nil {
		meta.Referer = *m.Referer
	}

	c.engine.UpdateVideo(c.roomID, meta)
}
