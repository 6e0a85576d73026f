package room

import (
	"niketsu-sync/server/src/xtime"
)

// Seek implements §4.6's seek dispatch: dedup a repeated seek only when
// targetTime is both within 0.2s of the room's current live position
// and within 0.15s of the last seek, cancel in-flight buffer pauses,
// and open a barrier pinning the room to targetTime.
func (e *Engine) Seek(roomID, userID string, targetTime float64) {
	e.seek(roomID, userID, targetTime, "User (Seek Sync)")
}

// seek is the shared implementation behind a direct seek and the
// seek-via-pause reinterpretation in Pause, which attributes the
// resulting sync differently.
func (e *Engine) seek(roomID, userID string, targetTime float64, triggeredBy string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	snapshotTime := r.clampTime(r.liveTime(now)).Seconds()
	if abs(snapshotTime-targetTime) < 0.2 && now.Sub(r.LastSeekTime).Seconds() < 0.15 {
		e.mu.Unlock()
		return
	}

	eff := e.beginBarrierLocked(r, PauseReasonSeek, xtime.FromSeconds(targetTime), r.IsPlaying, now, triggeredBy)
	r.LastSeekTime = now
	e.mu.Unlock()

	e.broadcastSync(roomID, eff)
}

// beginBarrierLocked implements §4.2's begin_barrier protocol.
func (e *Engine) beginBarrierLocked(r *Room, reason string, targetTime xtime.Duration, wasPlaying bool, now xtime.Duration, triggeredBy string) SyncEffect {
	r.SeekSyncEpoch++
	epoch := r.SeekSyncEpoch
	clamped := r.clampTime(targetTime)

	r.SeekSyncWasPlaying = wasPlaying
	r.SeekSyncTargetTime = clamped
	r.SeekSyncWaitingUsers = make(map[string]bool, len(r.Users))
	for id := range r.Users {
		r.SeekSyncWaitingUsers[id] = true
	}

	r.IsPlaying = false
	r.CurrentTime = clamped
	r.UpdatedAt = now
	r.PauseReason = reason
	r.clearBuffering()
	r.resetRateTrackers()

	e.scheduleBarrierTimeout(r.ID, epoch)

	return SyncEffect{
		IsPlaying:   false,
		CurrentTime: clamped.Seconds(),
		ForceSeek:   true,
		SeekSync:    true,
		SeekEpoch:   epoch,
		TriggeredBy: triggeredBy,
	}
}

func (e *Engine) scheduleBarrierTimeout(roomID string, epoch uint64) {
	e.scheduler.Schedule(e.config.BarrierTimeout, func() {
		e.onBarrierTimeout(roomID, epoch)
	})
}

func (e *Engine) onBarrierTimeout(roomID string, epoch uint64) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok || r.SeekSyncEpoch != epoch || len(r.SeekSyncWaitingUsers) == 0 {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	eff := e.completeBarrierLocked(r, now)
	e.mu.Unlock()

	if eff != nil {
		e.broadcastSync(roomID, *eff)
	}
}

// SeekReady implements seek_ready: discard the user from the waiting
// set only if the (pause_reason, epoch) pair they confirmed still
// matches; a stale or duplicate seek_ready is a no-op.
func (e *Engine) SeekReady(roomID, userID string, epoch uint64) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if r.PauseReason != PauseReasonSeek && r.PauseReason != PauseReasonResumeSync {
		e.mu.Unlock()
		return
	}
	if r.SeekSyncEpoch != epoch {
		e.mu.Unlock()
		return
	}
	if _, waiting := r.SeekSyncWaitingUsers[userID]; !waiting {
		e.mu.Unlock()
		return
	}

	delete(r.SeekSyncWaitingUsers, userID)
	if len(r.SeekSyncWaitingUsers) > 0 {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	eff := e.completeBarrierLocked(r, now)
	e.mu.Unlock()

	if eff != nil {
		e.broadcastSync(roomID, *eff)
	}
}

// completeBarrierLocked resumes (if the room was playing when the
// barrier opened) and bumps the epoch again so any still-in-flight
// timeout becomes stale. Must be called with e.mu held.
func (e *Engine) completeBarrierLocked(r *Room, now xtime.Duration) *SyncEffect {
	wasPlaying := r.SeekSyncWasPlaying
	target := r.CurrentTime

	if wasPlaying {
		r.IsPlaying = true
		r.UpdatedAt = now
	}
	r.PauseReason = PauseReasonNone
	r.SeekSyncEpoch++
	r.SeekSyncWaitingUsers = make(map[string]bool)

	return &SyncEffect{
		IsPlaying:   wasPlaying,
		CurrentTime: target.Seconds(),
		ForceSeek:   true,
	}
}
