package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"niketsu-sync/server/src/xtime"
)

// Config collects the engine tunables spec.md §9 calls out as
// implementation-defined (not part of the wire protocol).
type Config struct {
	BarrierTimeout   time.Duration
	BufferPauseDelay time.Duration
	ReaperInterval   time.Duration
	SendTimeout      time.Duration
}

// Engine is the process-wide room registry. It is the sole owner of
// every Room and User; everything else (connection handlers,
// background tasks) holds only an *Engine handle plus room/user id
// lookup keys, never a direct struct reference across goroutines.
type Engine struct {
	mu    sync.Mutex
	rooms map[string]*Room

	clock     xtime.Clock
	scheduler Scheduler
	config    Config

	stopReaper chan struct{}
}

func NewEngine(clock xtime.Clock, scheduler Scheduler, config Config) *Engine {
	e := &Engine{
		rooms:      make(map[string]*Room),
		clock:      clock,
		scheduler:  scheduler,
		config:     config,
		stopReaper: make(chan struct{}),
	}
	return e
}

// UserView is the flattened roster entry handed to protocol encoders.
type UserView struct {
	UserID   string
	Username string
	Avatar   string
	IsHost   bool
}

// RoomStateView is the flattened, lock-free snapshot used to build a
// protocol.RoomState.
type RoomStateView struct {
	VideoURL      string
	VideoTitle    string
	VideoFormat   string
	VideoDuration float64
	SubtitleURL   string
	IsPlaying     bool
	CurrentTime   float64
	Users         []UserView
	Chat          []ChatMessage
}

func (e *Engine) roomStateViewLocked(r *Room, now xtime.Duration) RoomStateView {
	return RoomStateView{
		VideoURL:      r.VideoURL,
		VideoTitle:    r.VideoTitle,
		VideoFormat:   r.VideoFormat,
		VideoDuration: r.VideoDuration.Seconds(),
		SubtitleURL:   r.SubtitleURL,
		IsPlaying:     r.IsPlaying,
		CurrentTime:   r.liveTime(now).Seconds(),
		Users:         e.userViewsLocked(r),
		Chat:          r.chatSnapshot(),
	}
}

func (e *Engine) userViewsLocked(r *Room) []UserView {
	ids := r.orderedUserIDs()
	views := make([]UserView, 0, len(ids))
	for _, id := range ids {
		u := r.Users[id]
		views = append(views, UserView{
			UserID:   u.ID,
			Username: u.Username,
			Avatar:   u.Avatar,
			IsHost:   id == r.HostID,
		})
	}
	return views
}

func newUserID() string {
	return uuid.NewString()
}

// RoomIDs returns the ids of every currently live room, used by
// health/introspection callers and by tests asserting a room was
// destroyed.
func (e *Engine) RoomIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		ids = append(ids, id)
	}
	return ids
}

// pauseNowLocked is the shared implementation behind manual pause and
// the delayed buffer pause: compute live time, freeze it, and
// reset every user's rate tracker so the next heartbeat re-sends a
// correction if needed.
func (e *Engine) pauseNowLocked(r *Room, now xtime.Duration, reason string) SyncEffect {
	live := r.clampTime(r.liveTime(now))
	r.IsPlaying = false
	r.CurrentTime = live
	r.UpdatedAt = now
	r.PauseReason = reason
	r.LastPauseTime = now
	r.resetRateTrackers()

	return SyncEffect{
		IsPlaying:   false,
		CurrentTime: live.Seconds(),
		ForceSeek:   true,
	}
}

func (e *Engine) resumeSoftLocked(r *Room, now xtime.Duration) SyncEffect {
	live := r.clampTime(r.liveTime(now))
	r.IsPlaying = true
	r.CurrentTime = live
	r.UpdatedAt = now
	r.PauseReason = PauseReasonNone
	r.LastPlayTime = now
	r.resetRateTrackers()

	return SyncEffect{
		IsPlaying:   true,
		CurrentTime: live.Seconds(),
		ForceSeek:   false,
	}
}

// shouldAcceptPauseLocked implements §4.1's should_accept_pause.
func (e *Engine) shouldAcceptPauseLocked(r *Room, now xtime.Duration) bool {
	if !r.IsPlaying && r.PauseReason != PauseReasonBuffer && r.PauseReason != PauseReasonSeek {
		return false
	}
	if now.Sub(r.LastRecoveryTime).Seconds() < 2.0 {
		return false
	}
	if now.Sub(r.LastAutoResumeTime).Seconds() < 0.3 {
		return false
	}
	if now.Sub(r.LastPlayTime).Seconds() < 0.5 && now.Sub(r.LastAutoResumeTime).Seconds() < 0.5 {
		return false
	}
	if last, ok := maxTime(r.BufferEndTimeByUser); ok && now.Sub(last).Seconds() < 0.2 {
		return false
	}
	if last, ok := maxTime(r.BufferStartTimeByUser); ok && now.Sub(last).Seconds() < 0.5 {
		return false
	}
	return true
}

func maxTime(m map[string]xtime.Duration) (xtime.Duration, bool) {
	var max xtime.Duration
	found := false
	for _, t := range m {
		if !found || t.Greater(max) {
			max = t
			found = true
		}
	}
	return max, found
}
