package room

import (
	"niketsu-sync/server/src/xtime"
)

const (
	bufferStartDedup        = 0.3
	bufferMinDurationSecs   = 2.0
	bufferAutoResumeDebounce = 1.0
	bufferTriggerWindow     = 30.0
	bufferTriggerLimit      = 3
)

// BufferStart implements §4.3's buffer_start admission and scheduling.
func (e *Engine) BufferStart(roomID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rooms[roomID]
	if !ok {
		return
	}
	u, ok := r.Users[userID]
	if !ok {
		return
	}

	now := e.clock.Now()

	if last, had := r.BufferStartTimeByUser[userID]; had && now.Sub(last).Seconds() < bufferStartDedup {
		return
	}

	_, hadPriorStart := r.BufferStartTimeByUser[userID]
	r.BufferStartTimeByUser[userID] = now
	r.setBuffering(userID, true)

	// Cancel any previously scheduled pause for this user regardless of
	// whether we schedule a new one, preventing ghost pauses.
	r.BufferPauseEpochByUser[userID]++
	epoch := r.BufferPauseEpochByUser[userID]

	if !hadPriorStart {
		return
	}
	if now.Sub(r.LastSeekTime).Seconds() < bufferStartDedup {
		return
	}
	if !r.IsPlaying {
		return
	}
	if e.triggerSuppressedLocked(r, u, now) {
		return
	}

	e.scheduler.Schedule(e.config.BufferPauseDelay, func() {
		e.onDelayedBufferPause(roomID, userID, epoch)
	})
}

// triggerSuppressedLocked implements the 30s/3-trigger spam
// suppression: once a user's window count exceeds the limit, further
// delayed-pause scheduling is dropped for the rest of the window.
func (e *Engine) triggerSuppressedLocked(r *Room, u *User, now xtime.Duration) bool {
	windowStart, ok := r.bufferWindowStart[u.ID]
	if !ok || now.Sub(windowStart).Seconds() > bufferTriggerWindow {
		r.bufferWindowStart[u.ID] = now
		u.BufferTriggerCount = 0
	}
	u.BufferTriggerCount++
	return u.BufferTriggerCount > bufferTriggerLimit
}

func (e *Engine) onDelayedBufferPause(roomID, userID string, epoch uint64) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok || r.BufferPauseEpochByUser[userID] != epoch || !r.isBuffering(userID) || !r.IsPlaying {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	eff := e.pauseNowLocked(r, now, PauseReasonBuffer)
	eff.TriggeredBy = userID
	e.mu.Unlock()

	e.broadcastSync(roomID, eff)
}

// BufferEnd implements §4.3's buffer_end bookkeeping and auto-resume
// gate.
func (e *Engine) BufferEnd(roomID, userID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, ok := r.Users[userID]; !ok {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	start, hadStart := r.BufferStartTimeByUser[userID]
	r.BufferEndTimeByUser[userID] = now
	r.setBuffering(userID, false)

	accept := hadStart &&
		now.Sub(start).Seconds() >= bufferMinDurationSecs &&
		r.PauseReason == PauseReasonBuffer &&
		now.Sub(r.LastPauseTime).Seconds() >= bufferAutoResumeDebounce &&
		!r.anyBuffering() &&
		!r.IsPlaying

	if !accept {
		e.mu.Unlock()
		return
	}

	eff := e.resumeSoftLocked(r, now)
	r.LastAutoResumeTime = now
	e.mu.Unlock()

	e.broadcastSync(roomID, eff)
}
