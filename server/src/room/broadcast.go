package room

import (
	"context"
	"sync"
	"time"

	"niketsu-sync/server/src/logger"
	"niketsu-sync/server/src/protocol"
	"niketsu-sync/server/src/xtime"
)

// SyncEffect is the authoritative playback update an engine operation
// produces; broadcastSync turns it into a protocol.Sync frame.
type SyncEffect struct {
	IsPlaying   bool
	CurrentTime float64
	ForceSeek   bool
	SeekSync    bool
	SeekEpoch   uint64
	TriggeredBy string
}

// broadcastToRoom snapshots the user→connection map under the lock,
// then fans out concurrently outside it (spec §4.5). Each send is
// wrapped in the user's own send lock and a short timeout; a failure
// only flags the user, it is never retried and never fails the
// broadcast for anyone else.
func (e *Engine) broadcastToRoom(roomID string, msg protocol.Message, excludeUserID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	var recipients []*User
	if ok {
		for id, u := range r.Users {
			if id == excludeUserID {
				continue
			}
			recipients = append(recipients, u)
		}
	}
	e.mu.Unlock()

	if !ok || len(recipients) == 0 {
		return
	}

	payload, err := protocol.Marshal(msg)
	if err != nil {
		logger.Errorw("failed to marshal broadcast message", "type", msg.Type(), "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, u := range recipients {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.sendTo(u, payload)
		}()
	}
	wg.Wait()
}

// unicast sends msg to exactly one user, under the same send-timeout
// discipline as a broadcast.
func (e *Engine) unicast(roomID, userID string, msg protocol.Message) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	var u *User
	if ok {
		u = r.Users[userID]
	}
	e.mu.Unlock()

	if u == nil {
		return
	}

	payload, err := protocol.Marshal(msg)
	if err != nil {
		logger.Errorw("failed to marshal unicast message", "type", msg.Type(), "error", err)
		return
	}
	e.sendTo(u, payload)
}

func (e *Engine) sendTo(u *User, payload []byte) {
	timeout := e.config.SendTimeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	u.send(ctx, payload)
}

func (e *Engine) broadcastSync(roomID string, eff SyncEffect) {
	msg := &protocol.Sync{
		IsPlaying:   eff.IsPlaying,
		CurrentTime: eff.CurrentTime,
		ForceSeek:   eff.ForceSeek,
		TriggeredBy: eff.TriggeredBy,
	}
	if eff.SeekSync {
		msg.SeekSync = true
		epoch := eff.SeekEpoch
		msg.SeekEpoch = &epoch
	}
	e.broadcastToRoom(roomID, msg, "")
}

// StartReaper launches the background dead-peer collector (spec
// §4.5). Call Stop to terminate it; it is safe to call Stop without
// having ever observed a failed send.
func (e *Engine) StartReaper() {
	interval := e.config.ReaperInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.reapOnce()
			case <-e.stopReaper:
				return
			}
		}
	}()
}

func (e *Engine) Stop() {
	close(e.stopReaper)
}

type reapedRoom struct {
	roomID string
	users  []UserView
	resume *SyncEffect
}

func (e *Engine) reapOnce() {
	now := e.clock.Now()

	e.mu.Lock()
	var reaped []reapedRoom
	var destroyed []string
	for roomID, r := range e.rooms {
		var dead []string
		for id, u := range r.Users {
			if u.hasFailed() {
				dead = append(dead, id)
			}
		}
		if len(dead) == 0 {
			continue
		}

		var resume *SyncEffect
		for _, id := range dead {
			delete(r.Users, id)
			for i, uid := range r.UserIDs {
				if uid == id {
					r.UserIDs = append(r.UserIDs[:i], r.UserIDs[i+1:]...)
					break
				}
			}
			r.buffering.Delete(id)
			delete(r.BufferStartTimeByUser, id)
			delete(r.BufferEndTimeByUser, id)
			delete(r.BufferPauseEpochByUser, id)
			delete(r.bufferWindowStart, id)

			if _, waiting := r.SeekSyncWaitingUsers[id]; waiting {
				delete(r.SeekSyncWaitingUsers, id)
				if len(r.SeekSyncWaitingUsers) == 0 {
					resume = e.completeBarrierLocked(r, now)
				}
			}
		}
		r.electHost()

		if len(r.Users) == 0 {
			delete(e.rooms, roomID)
			destroyed = append(destroyed, roomID)
			continue
		}

		reaped = append(reaped, reapedRoom{roomID: roomID, users: e.userViewsLocked(r), resume: resume})
	}
	e.mu.Unlock()

	for _, rr := range reaped {
		e.broadcastToRoom(rr.roomID, &protocol.UserLeft{Users: toProtocolUsers(rr.users)}, "")
		if rr.resume != nil {
			e.broadcastSync(rr.roomID, *rr.resume)
		}
	}
	for _, roomID := range destroyed {
		logger.Infow("room destroyed by reaper", "room", roomID)
	}
}

func toProtocolUsers(views []UserView) []protocol.UserView {
	out := make([]protocol.UserView, 0, len(views))
	for _, v := range views {
		out = append(out, protocol.UserView{
			UserID:   v.UserID,
			Username: v.Username,
			Avatar:   v.Avatar,
			IsHost:   v.IsHost,
		})
	}
	return out
}

func toProtocolChat(msgs []ChatMessage) []protocol.ChatMessageView {
	out := make([]protocol.ChatMessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.ChatMessageView{
			Username:  m.Username,
			Avatar:    m.Avatar,
			Message:   m.Message,
			Timestamp: m.Timestamp,
			ReplyTo:   m.ReplyTo,
		})
	}
	return out
}
