package room

import (
	"niketsu-sync/server/src/protocol"
	"niketsu-sync/server/src/xtime"
)

const (
	stallTolerance        = 0.05
	seekGraceSecs         = 1.0
	endOfVODGuardSecs     = 0.5
	hardSyncDriftSecs     = 3.0
	softSyncDriftLowSecs  = 0.5
	softSyncDriftHighSecs = 3.0
	minResyncIntervalSecs = 3.0
	rateBehind            = 1.03
	rateAhead             = 0.97
	rateNormal            = 1.0
	stallCountThreshold   = 2
)

type driftCorrection struct {
	kind        string // "hard", "soft", "none"
	rate        float64
	triggeredBy string
}

// Ping implements §4.4's heartbeat/drift compensator: reply pong to a
// user of a known room, then, unless the client reported it is
// mid-seek, compute drift and apply at most one correction. A ping
// whose room or user is unknown (including one sent before join) gets
// no pong.
func (e *Engine) Ping(roomID, userID string, currentTime float64, pingID *string, syncing bool) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		e.unicast(roomID, userID, &protocol.Pong{PingID: pingID, ServerTime: currentTime})
		return
	}
	u, ok := r.Users[userID]
	if !ok {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	serverTime := r.clampTime(r.liveTime(now)).Seconds()
	e.mu.Unlock()

	e.unicast(roomID, userID, &protocol.Pong{PingID: pingID, ServerTime: serverTime})

	if syncing {
		e.mu.Lock()
		if r, ok := e.rooms[roomID]; ok {
			if u, ok := r.Users[userID]; ok {
				u.LastClientTime = xtime.FromSeconds(currentTime)
			}
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	r, ok = e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	u, ok = r.Users[userID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if !r.IsPlaying || r.PauseReason == PauseReasonSeek {
		u.LastClientTime = xtime.FromSeconds(currentTime)
		// A paused room still owes a client a one-time rate-1.0 nudge if
		// it was left mid-correction when playback stopped; once sent,
		// LastRateSent is normalized and this becomes a no-op.
		needsRenorm := u.LastRateSent != rateNormal
		if needsRenorm {
			u.LastRateSent = rateNormal
		}
		e.mu.Unlock()
		if needsRenorm {
			e.unicast(roomID, userID, &protocol.SyncCorrection{Rate: rateNormal})
		}
		return
	}

	if r.VideoDuration.Seconds() > 0 && r.VideoFormat != VideoFormatHLS {
		remaining := r.VideoDuration.Seconds() - serverTime
		if remaining < endOfVODGuardSecs {
			u.LastClientTime = xtime.FromSeconds(currentTime)
			e.mu.Unlock()
			return
		}
	}

	stalled := abs(currentTime-u.LastClientTime.Seconds()) < stallTolerance
	if stalled {
		u.StallCount++
	} else {
		u.StallCount = 0
	}
	u.LastClientTime = xtime.FromSeconds(currentTime)

	if now.Sub(r.LastSeekTime).Seconds() < seekGraceSecs {
		u.StallCount = 0
		e.mu.Unlock()
		return
	}

	drift := currentTime - serverTime
	correction, recovery := e.classifyDrift(r, u, drift, now)
	if recovery {
		r.LastRecoveryTime = now
		r.LastAutoResumeTime = now
	}
	if correction.kind != "none" {
		u.LastSyncTime = now
	}
	switch correction.kind {
	case "hard":
		u.LastRateSent = rateNormal
	case "soft":
		u.LastRateSent = correction.rate
	}
	e.mu.Unlock()

	switch correction.kind {
	case "hard":
		e.unicast(roomID, userID, &protocol.Sync{
			IsPlaying:   true,
			CurrentTime: serverTime,
			ForceSeek:   true,
			TriggeredBy: correction.triggeredBy,
		})
	case "soft":
		e.unicast(roomID, userID, &protocol.SyncCorrection{Rate: correction.rate})
	}
}

// classifyDrift applies the correction table of §4.4. The caller must
// hold e.mu. recovery reports whether a stall/hard-drift recovery
// stamp should be applied.
func (e *Engine) classifyDrift(r *Room, u *User, drift float64, now xtime.Duration) (driftCorrection, bool) {
	sinceLastSync := now.Sub(u.LastSyncTime).Seconds()
	stallSuspected := u.StallCount >= stallCountThreshold

	if stallSuspected && sinceLastSync > minResyncIntervalSecs {
		return driftCorrection{kind: "hard", triggeredBy: "System (Heartbeat Sync)"}, true
	}
	if abs(drift) > hardSyncDriftSecs && !stallSuspected && sinceLastSync > minResyncIntervalSecs {
		return driftCorrection{kind: "hard", triggeredBy: "System (Heartbeat Sync)"}, true
	}
	if abs(drift) > softSyncDriftLowSecs && abs(drift) <= softSyncDriftHighSecs && sinceLastSync > minResyncIntervalSecs {
		rate := rateAhead
		if drift < 0 {
			rate = rateBehind
		}
		if rate != u.LastRateSent {
			return driftCorrection{kind: "soft", rate: rate}, false
		}
		return driftCorrection{kind: "none"}, false
	}
	if abs(drift) < softSyncDriftLowSecs && u.LastRateSent != rateNormal {
		return driftCorrection{kind: "soft", rate: rateNormal}, false
	}
	return driftCorrection{kind: "none"}, false
}
