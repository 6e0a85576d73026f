// Package protocol defines the wire messages exchanged between a
// client connection and the room engine: the tagged union of inbound
// message types, the outbound broadcasts the engine produces, and the
// JSON (un)marshaling that dispatches on the "type" field.
package protocol

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	JoinType        MessageType = "join"
	PlayType        MessageType = "play"
	PauseType       MessageType = "pause"
	SeekType        MessageType = "seek"
	SeekReadyType   MessageType = "seek_ready"
	BufferStartType MessageType = "buffer_start"
	BufferEndType   MessageType = "buffer_end"
	ChatType        MessageType = "chat"
	TypingType      MessageType = "typing"
	VideoChangeType MessageType = "video_change"
	PingType        MessageType = "ping"
	GetStateType    MessageType = "get_state"

	RoomStateType      MessageType = "room_state"
	UserJoinedType     MessageType = "user_joined"
	UserLeftType       MessageType = "user_left"
	SyncType           MessageType = "sync"
	SyncCorrectionType MessageType = "sync_correction"
	VideoChangedType   MessageType = "video_changed"
	PongType           MessageType = "pong"
	ErrorType          MessageType = "error"

	UnknownType MessageType = "unknown"
)

// Message is implemented by every inbound and outbound payload.
// Inbound messages other than join carry no sender identity; the
// router attaches it out of band when a handler needs it.
type Message interface {
	Type() MessageType
}

// --- inbound ---

type Join struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (Join) Type() MessageType { return JoinType }

type Play struct{}

func (Play) Type() MessageType { return PlayType }

type Pause struct {
	Time *float64 `json:"time"`
}

func (Pause) Type() MessageType { return PauseType }

type Seek struct {
	Time float64 `json:"time"`
}

func (Seek) Type() MessageType { return SeekType }

type SeekReady struct {
	SeekEpoch uint64 `json:"seek_epoch"`
}

func (SeekReady) Type() MessageType { return SeekReadyType }

type BufferStart struct{}

func (BufferStart) Type() MessageType { return BufferStartType }

type BufferEnd struct{}

func (BufferEnd) Type() MessageType { return BufferEndType }

type Chat struct {
	Message string  `json:"message"`
	ReplyTo *string `json:"reply_to"`
}

func (Chat) Type() MessageType { return ChatType }

type Typing struct {
	IsTyping bool `json:"is_typing"`
}

func (Typing) Type() MessageType { return TypingType }

// ChatBroadcast is the outbound counterpart of Chat: the server always
// attributes a chat message to its sender, regardless of what, if
// anything, the inbound frame carried beyond message/reply_to.
type ChatBroadcast struct {
	Username  string  `json:"username"`
	Avatar    string  `json:"avatar"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	ReplyTo   *string `json:"reply_to,omitempty"`
}

func (ChatBroadcast) Type() MessageType { return ChatType }

type VideoChange struct {
	URL         string  `json:"url"`
	Title       *string `json:"title"`
	UserAgent   *string `json:"user_agent"`
	Referer     *string `json:"referer"`
	SubtitleURL *string `json:"subtitle_url"`
}

func (VideoChange) Type() MessageType { return VideoChangeType }

type Ping struct {
	CurrentTime float64 `json:"current_time"`
	PingID      *string `json:"_ping_id"`
	Syncing     bool    `json:"syncing"`
}

func (Ping) Type() MessageType { return PingType }

type GetState struct{}

func (GetState) Type() MessageType { return GetStateType }

type Unknown struct {
	json.RawMessage
}

func (Unknown) Type() MessageType { return UnknownType }

// --- outbound ---

type UserView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	IsHost   bool   `json:"is_host"`
}

type ChatMessageView struct {
	Username  string  `json:"username"`
	Avatar    string  `json:"avatar"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	ReplyTo   *string `json:"reply_to,omitempty"`
}

type RoomState struct {
	VideoURL          string            `json:"video_url"`
	VideoTitle        string            `json:"video_title"`
	VideoFormat       string            `json:"video_format"`
	VideoDuration     float64           `json:"video_duration"`
	SubtitleURL       string            `json:"subtitle_url"`
	IsPlaying         bool              `json:"is_playing"`
	CurrentTime       float64           `json:"current_time"`
	Users             []UserView        `json:"users"`
	Chat              []ChatMessageView `json:"chat"`
	ProxyEnabled      bool              `json:"proxy_enabled"`
	ProxyURL          string            `json:"proxy_url,omitempty"`
	AvailabilityCheck bool              `json:"availability_check"`
}

func (RoomState) Type() MessageType { return RoomStateType }

type UserJoined struct {
	User  UserView   `json:"user"`
	Users []UserView `json:"users"`
}

func (UserJoined) Type() MessageType { return UserJoinedType }

type UserLeft struct {
	UserID string     `json:"user_id"`
	Users  []UserView `json:"users"`
}

func (UserLeft) Type() MessageType { return UserLeftType }

type Sync struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	ForceSeek   bool    `json:"force_seek,omitempty"`
	SeekSync    bool    `json:"seek_sync,omitempty"`
	SeekEpoch   *uint64 `json:"seek_epoch,omitempty"`
	TriggeredBy string  `json:"triggered_by,omitempty"`
}

func (Sync) Type() MessageType { return SyncType }

type SyncCorrection struct {
	Rate float64 `json:"rate"`
}

func (SyncCorrection) Type() MessageType { return SyncCorrectionType }

type VideoChanged struct {
	VideoURL      string  `json:"video_url"`
	VideoTitle    string  `json:"video_title"`
	VideoFormat   string  `json:"video_format"`
	VideoDuration float64 `json:"video_duration"`
	SubtitleURL   string  `json:"subtitle_url"`
}

func (VideoChanged) Type() MessageType { return VideoChangedType }

type Pong struct {
	PingID     *string `json:"_ping_id,omitempty"`
	ServerTime float64 `json:"server_time"`
}

func (Pong) Type() MessageType { return PongType }

type Error struct {
	Message string `json:"message"`
}

func (Error) Type() MessageType { return ErrorType }

// Unmarshal decodes a frame's "type" tag, picks the matching concrete
// struct and unmarshals the rest of the fields into it. An unrecognized
// type decodes to Unknown and is never an error: the router treats it
// as a silent drop (spec "Dynamic typing on the wire").
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	message := newMessage(head.Type)
	if _, ok := message.(*Unknown); ok {
		return message, nil
	}

	if err := json.Unmarshal(data, message); err != nil {
		return nil, err
	}
	return message, nil
}

func newMessage(t MessageType) Message {
	switch t {
	case JoinType:
		return &Join{}
	case PlayType:
		return &Play{}
	case PauseType:
		return &Pause{}
	case SeekType:
		return &Seek{}
	case SeekReadyType:
		return &SeekReady{}
	case BufferStartType:
		return &BufferStart{}
	case BufferEndType:
		return &BufferEnd{}
	case ChatType:
		return &Chat{}
	case TypingType:
		return &Typing{}
	case VideoChangeType:
		return &VideoChange{}
	case PingType:
		return &Ping{}
	case GetStateType:
		return &GetState{}
	default:
		return &Unknown{}
	}
}

// Marshal encodes message and appends its type tag, mirroring how the
// struct fields alone never carry the discriminator.
func Marshal(message Message) ([]byte, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return appendType(encoded, message.Type())
}

func appendType(encoded []byte, t MessageType) ([]byte, error) {
	if len(encoded) == 0 || encoded[len(encoded)-1] != '}' {
		return nil, errors.New("protocol: message did not encode to a JSON object")
	}
	out := make([]byte, 0, len(encoded)+len(t)+10)
	out = append(out, encoded[:len(encoded)-1]...)
	out = append(out, `,"type":"`...)
	out = append(out, t...)
	out = append(out, `"}`...)
	return out, nil
}
