package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niketsu-sync/server/src/xtime"
)

func TestPingAlwaysRepliesPong(t *testing.T) {
	e, _, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})

	pingID := "abc"
	e.Ping("room1", userID, 0, &pingID, false)

	msg := conn.last()
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "abc", msg["_ping_id"])
}

func TestPingWhilePausedOnlyUpdatesClientTimeNoCorrection(t *testing.T) {
	e, _, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})

	before := conn.count()
	e.Ping("room1", userID, 5, nil, false)

	// only the mandatory pong, no sync/sync_correction since the room
	// is paused.
	assert.Equal(t, before+1, conn.count())
	assert.Equal(t, "pong", conn.last()["type"])
}

func TestPingWhilePausedStillSendsOneTimeRenormalizeNudge(t *testing.T) {
	e, _, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})

	e.mu.Lock()
	e.rooms["room1"].Users[userID].LastRateSent = 1.03
	e.mu.Unlock()

	before := conn.count()
	e.Ping("room1", userID, 5, nil, false)

	// pong plus the one-time rate-1.0 nudge, since the room left
	// playback mid-correction.
	assert.Equal(t, before+2, conn.count())
	msg := conn.last()
	assert.Equal(t, "sync_correction", msg["type"])
	assert.InDelta(t, 1.0, msg["rate"], 0.0001)

	before = conn.count()
	e.Ping("room1", userID, 5, nil, false)
	// already normalized: only the mandatory pong this time.
	assert.Equal(t, before+1, conn.count())
	assert.Equal(t, "pong", conn.last()["type"])
}

func TestPingHardSyncsOnLargeDrift(t *testing.T) {
	e, clock, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})
	e.Play("room1", userID)

	clock.Advance(xtime.FromSeconds(10))
	// push last-sync far enough in the past that the min-resync-interval
	// gate does not suppress the correction.
	e.mu.Lock()
	r := e.rooms["room1"]
	u := r.Users[userID]
	u.LastSyncTime = xtime.FromSeconds(-100)
	r.LastSeekTime = xtime.FromSeconds(-100)
	u.LastClientTime = xtime.FromSeconds(9)
	e.mu.Unlock()

	e.Ping("room1", userID, 20, nil, false) // drift = 20 - 10 = 10s, way past 3.0s

	msg := conn.last()
	assert.Equal(t, "sync", msg["type"])
	assert.Equal(t, true, msg["force_seek"])
}

func TestPingSoftCorrectsModerateDrift(t *testing.T) {
	e, clock, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})
	e.Play("room1", userID)

	clock.Advance(xtime.FromSeconds(10))
	e.mu.Lock()
	r := e.rooms["room1"]
	u := r.Users[userID]
	u.LastSyncTime = xtime.FromSeconds(-100)
	r.LastSeekTime = xtime.FromSeconds(-100)
	u.LastClientTime = xtime.FromSeconds(8.8)
	e.mu.Unlock()

	e.Ping("room1", userID, 11, nil, false) // drift = +1.0s (client ahead), within soft band

	msg := conn.last()
	assert.Equal(t, "sync_correction", msg["type"])
	assert.InDelta(t, 0.97, msg["rate"], 0.0001)
}

func TestPingRenormalizesWhenDriftShrinks(t *testing.T) {
	e, clock, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})
	e.Play("room1", userID)

	e.mu.Lock()
	r := e.rooms["room1"]
	u := r.Users[userID]
	u.LastRateSent = 1.03
	e.mu.Unlock()

	clock.Advance(xtime.FromSeconds(10))
	e.mu.Lock()
	u.LastSyncTime = xtime.FromSeconds(-100)
	r.LastSeekTime = xtime.FromSeconds(-100)
	u.LastClientTime = xtime.FromSeconds(9.9)
	e.mu.Unlock()

	e.Ping("room1", userID, 10.05, nil, false) // drift = 0.05s, inside tight band

	msg := conn.last()
	assert.Equal(t, "sync_correction", msg["type"])
	assert.InDelta(t, 1.0, msg["rate"], 0.0001)
}

func TestPingSyncingFlagSkipsCorrection(t *testing.T) {
	e, clock, _ := newTestEngine()
	conn := newFakeSender()
	userID := e.Join("room1", "alice", "a", conn, RoomOptions{})
	e.UpdateVideo("room1", VideoMetadata{URL: "u", Format: VideoFormatMP4, Duration: 600})
	e.Play("room1", userID)
	clock.Advance(xtime.FromSeconds(10))

	before := conn.count()
	e.Ping("room1", userID, 50, nil, true)

	assert.Equal(t, before+1, conn.count())
	assert.Equal(t, "pong", conn.last()["type"])
}

func TestPingUnknownUserIsNoop(t *testing.T) {
	e, _, _ := newTestEngine()
	conn := newFakeSender()
	_ = e.Join("room1", "alice", "a", conn, RoomOptions{})

	before := conn.count()
	e.Ping("room1", "ghost", 0, nil, false)
	assert.Equal(t, before, conn.count())
}

func TestPingUnknownRoomDoesNotPanic(t *testing.T) {
	e, _, _ := newTestEngine()
	_ = e

	// an engine with no rooms at all has no user to deliver a pong to;
	// Ping's unknown-room branch must simply return.
	require.NotPanics(t, func() {
		e.Ping("ghost-room", "ghost-user", 3.5, nil, false)
	})
}
