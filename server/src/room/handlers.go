package room

import (
	"time"

	"niketsu-sync/server/src/protocol"
	"niketsu-sync/server/src/xtime"
)

// RoomOptions carries the collaborator-supplied, per-server values
// that room_state passes through to clients verbatim (spec §6); the
// sync engine never interprets them.
type RoomOptions struct {
	ProxyEnabled      bool
	ProxyURL          string
	AvailabilityCheck bool
}

// Join attaches a user to a room, creating the room on first join. It
// sends the new user their room_state directly and broadcasts
// user_joined to everyone else.
func (e *Engine) Join(roomID, username, avatar string, conn Sender, opts RoomOptions) (userID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		e.rooms[roomID] = r
	}

	userID = newUserID()
	u := newUser(userID, username, avatar, conn)
	r.Users[userID] = u
	r.UserIDs = append(r.UserIDs, userID)
	r.electHost()

	now := e.clock.Now()
	state := e.roomStateViewLocked(r, now)
	others := e.userViewsLocked(r)
	e.mu.Unlock()

	e.unicast(roomID, userID, &protocol.RoomState{
		VideoURL:          state.VideoURL,
		VideoTitle:        state.VideoTitle,
		VideoFormat:       state.VideoFormat,
		VideoDuration:     state.VideoDuration,
		SubtitleURL:       state.SubtitleURL,
		IsPlaying:         state.IsPlaying,
		CurrentTime:       state.CurrentTime,
		Users:             toProtocolUsers(state.Users),
		Chat:              toProtocolChat(state.Chat),
		ProxyEnabled:      opts.ProxyEnabled,
		ProxyURL:          opts.ProxyURL,
		AvailabilityCheck: opts.AvailabilityCheck,
	})

	var joined protocol.UserView
	for _, v := range others {
		if v.UserID == userID {
			joined = protocol.UserView{UserID: v.UserID, Username: v.Username, Avatar: v.Avatar, IsHost: v.IsHost}
			break
		}
	}
	e.broadcastToRoom(roomID, &protocol.UserJoined{User: joined, Users: toProtocolUsers(others)}, userID)

	return userID
}

// Leave detaches a user, re-elects the host, collapses any barrier
// waiting on them, and destroys the room once empty.
func (e *Engine) Leave(roomID, userID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}

	delete(r.Users, userID)
	for i, id := range r.UserIDs {
		if id == userID {
			r.UserIDs = append(r.UserIDs[:i], r.UserIDs[i+1:]...)
			break
		}
	}
	r.electHost()
	r.buffering.Delete(userID)
	delete(r.BufferStartTimeByUser, userID)
	delete(r.BufferEndTimeByUser, userID)
	delete(r.BufferPauseEpochByUser, userID)
	delete(r.bufferWindowStart, userID)

	now := e.clock.Now()
	var resume *SyncEffect
	if _, waiting := r.SeekSyncWaitingUsers[userID]; waiting {
		delete(r.SeekSyncWaitingUsers, userID)
		if len(r.SeekSyncWaitingUsers) == 0 {
			resume = e.completeBarrierLocked(r, now)
		}
	}

	empty := len(r.Users) == 0
	if empty {
		delete(e.rooms, roomID)
	}
	users := e.userViewsLocked(r)
	e.mu.Unlock()

	e.broadcastToRoom(roomID, &protocol.UserLeft{UserID: userID, Users: toProtocolUsers(users)}, "")
	if resume != nil {
		e.broadcastSync(roomID, *resume)
	}
}

// GetState sends a room_state snapshot directly to the requesting
// user in reply to the get_state message.
func (e *Engine) GetState(roomID, userID string, opts RoomOptions) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	state := e.roomStateViewLocked(r, e.clock.Now())
	e.mu.Unlock()

	e.unicast(roomID, userID, &protocol.RoomState{
		VideoURL:          state.VideoURL,
		VideoTitle:        state.VideoTitle,
		VideoFormat:       state.VideoFormat,
		VideoDuration:     state.VideoDuration,
		SubtitleURL:       state.SubtitleURL,
		IsPlaying:         state.IsPlaying,
		CurrentTime:       state.CurrentTime,
		Users:             toProtocolUsers(state.Users),
		Chat:              toProtocolChat(state.Chat),
		ProxyEnabled:      opts.ProxyEnabled,
		ProxyURL:          opts.ProxyURL,
		AvailabilityCheck: opts.AvailabilityCheck,
	})
}

// VideoMetadata is what a video_change handler resolves, either from
// the external metadata extractor or the client-supplied fallback
// (spec §7's collaborator contract; format is treated as unknown/0
// duration for HLS regardless of what was returned).
type VideoMetadata struct {
	URL         string
	Title       string
	Format      string
	Duration    float64
	SubtitleURL string
	UserAgent   string
	Referer     string
}

// UpdateVideo implements the full per-room reset of §4.1: every
// debounce clock, buffer map, and pending task is wiped and the new
// video metadata replaces the old.
func (e *Engine) UpdateVideo(roomID string, meta VideoMetadata) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}

	r.SeekSyncEpoch++
	r.SeekSyncWaitingUsers = make(map[string]bool)
	r.SeekSyncWasPlaying = false
	r.SeekSyncTargetTime = xtime.Duration{}

	r.clearBuffering()
	r.BufferStartTimeByUser = make(map[string]xtime.Duration)
	r.BufferEndTimeByUser = make(map[string]xtime.Duration)
	r.BufferPauseEpochByUser = make(map[string]uint64)
	r.bufferWindowStart = make(map[string]xtime.Duration)

	r.LastPlayTime = xtime.Duration{}
	r.LastPauseTime = xtime.Duration{}
	r.LastSeekTime = xtime.Duration{}
	r.LastAutoResumeTime = xtime.Duration{}
	r.LastRecoveryTime = xtime.Duration{}

	duration := meta.Duration
	if meta.Format == VideoFormatHLS {
		duration = 0
	}

	r.VideoURL = meta.URL
	r.VideoTitle = meta.Title
	r.VideoFormat = meta.Format
	r.VideoDuration = xtime.FromSeconds(duration)
	r.SubtitleURL = meta.SubtitleURL
	r.UserAgent = meta.UserAgent
	r.Referer = meta.Referer

	r.IsPlaying = false
	r.CurrentTime = xtime.Duration{}
	r.UpdatedAt = e.clock.Now()
	r.PauseReason = PauseReasonNone
	e.mu.Unlock()

	e.broadcastToRoom(roomID, &protocol.VideoChanged{
		VideoURL:      meta.URL,
		VideoTitle:    meta.Title,
		VideoFormat:   meta.Format,
		VideoDuration: duration,
		SubtitleURL:   meta.SubtitleURL,
	}, "")
}

// Play implements the non-barrier "play" dispatch: if paused, clear
// buffering state, cancel any barrier, and resume.
func (e *Engine) Play(roomID, userID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok || r.IsPlaying {
		e.mu.Unlock()
		return
	}

	r.clearBuffering()
	r.SeekSyncEpoch++
	r.SeekSyncWaitingUsers = make(map[string]bool)

	now := e.clock.Now()
	eff := e.resumeSoftLocked(r, now)
	e.mu.Unlock()

	e.broadcastSync(roomID, eff)
}

// Pause implements the "pause" dispatch, including the seek-via-pause
// fallback: a time far from live is reinterpreted as a seek.
func (e *Engine) Pause(roomID, userID string, clientTime *float64) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	if clientTime != nil {
		live := r.liveTime(now).Seconds()
		if abs(*clientTime-live) > 2.0 {
			e.mu.Unlock()
			e.seek(roomID, userID, *clientTime, "User (Seek via Pause)")
			return
		}
	}

	if !e.shouldAcceptPauseLocked(r, now) {
		e.mu.Unlock()
		return
	}

	r.SeekSyncEpoch++
	r.SeekSyncWaitingUsers = make(map[string]bool)

	eff := e.pauseNowLocked(r, now, PauseReasonManual)
	e.mu.Unlock()

	e.broadcastSync(roomID, eff)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Chat appends a message to the room's bounded log and broadcasts it.
func (e *Engine) Chat(roomID, userID, message string, replyTo *string, now time.Time) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	u, ok := r.Users[userID]
	if !ok {
		e.mu.Unlock()
		return
	}

	chat := ChatMessage{
		Username:  u.Username,
		Avatar:    u.Avatar,
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339),
		ReplyTo:   replyTo,
	}
	r.appendChat(chat)
	e.mu.Unlock()

	e.broadcastToRoom(roomID, &protocol.ChatBroadcast{
		Username:  chat.Username,
		Avatar:    chat.Avatar,
		Message:   chat.Message,
		Timestamp: chat.Timestamp,
		ReplyTo:   chat.ReplyTo,
	}, "")
}

// Typing broadcasts a typing indicator to everyone but the sender.
func (e *Engine) Typing(roomID, userID string, isTyping bool) {
	e.mu.Lock()
	_, ok := e.rooms[roomID]
	e.mu.Unlock()
	if !ok {
		return
	}

	e.broadcastToRoom(roomID, &protocol.Typing{IsTyping: isTyping}, userID)
}
