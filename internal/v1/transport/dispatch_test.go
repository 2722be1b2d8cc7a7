package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlehq/huddle/internal/v1/registry"
)

func newTestHub() *Hub {
	return NewHub(registry.NewRegistry(nil, 8, 10, 24*time.Hour), nil, []string{"*"})
}

// connect attaches a pumpless client so tests can drive dispatch directly
// and read queued frames straight off the send channel.
func connect(h *Hub) *Client {
	c := newClient(h, nil)
	h.addClient(c)
	return c
}

// drainFrames empties the client's outbound queue without blocking.
func drainFrames(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return frames
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			frames = append(frames, m)
		default:
			return frames
		}
	}
}

func frame(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

// joinAs connects a fresh socket, joins it to roomID and clears the join
// fan-out from its queue.
func joinAs(t *testing.T, h *Hub, roomID, name string) *Client {
	t.Helper()
	c := connect(h)
	h.dispatch(c, frame(t, map[string]any{"type": "join", "roomId": roomID, "name": name}))
	require.Equal(t, stateActive, c.State(), "join for %s should activate the socket", name)
	drainFrames(t, c)
	return c
}

func frameTypes(frames []map[string]any) []string {
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	return types
}

func TestDispatch_MalformedFrameKeepsSocketOpen(t *testing.T) {
	h := newTestHub()
	c := connect(h)

	h.dispatch(c, []byte("{this is not json"))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Invalid message format", frames[0]["message"])
	assert.True(t, c.IsOpen())
	assert.Equal(t, stateUnbound, c.State())
}

func TestDispatch_UnknownTypeKeepsSocketOpen(t *testing.T) {
	h := newTestHub()
	c := connect(h)

	h.dispatch(c, frame(t, map[string]any{"type": "telepathy", "roomId": "DEMO42"}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "Invalid message format", frames[0]["message"])
	assert.True(t, c.IsOpen())
}

func TestDispatch_MissingRequiredField(t *testing.T) {
	h := newTestHub()
	c := connect(h)

	// join without a name fails validation, not the state gate
	h.dispatch(c, frame(t, map[string]any{"type": "join", "roomId": "DEMO42"}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "Invalid message format", frames[0]["message"])
	assert.Equal(t, stateUnbound, c.State())
}

func TestDispatch_RequiresJoinFirst(t *testing.T) {
	h := newTestHub()
	c := connect(h)

	for _, payload := range []map[string]any{
		{"type": "chat", "text": "hello?"},
		{"type": "offer", "targetId": "someone", "sdp": map[string]any{"type": "offer", "sdp": "v=0"}},
		{"type": "leave"},
		{"type": "moderator-action", "targetId": "someone", "action": "mute"},
	} {
		h.dispatch(c, frame(t, payload))
		frames := drainFrames(t, c)
		require.Len(t, frames, 1, "payload %v", payload)
		assert.Equal(t, "error", frames[0]["type"])
		assert.Equal(t, "Not joined to a room", frames[0]["message"])
	}
	assert.Equal(t, stateUnbound, c.State())
	assert.True(t, c.IsOpen())
}

func TestJoin_FirstJoinerBecomesHost(t *testing.T) {
	h := newTestHub()
	alice := connect(h)

	h.dispatch(alice, frame(t, map[string]any{"type": "join", "roomId": "demo42", "name": "Alice"}))

	require.Equal(t, stateActive, alice.State())
	assert.Equal(t, "DEMO42", alice.boundRoom())

	frames := drainFrames(t, alice)
	require.Len(t, frames, 1, "solo joiner hears only its own announcement")
	f := frames[0]
	assert.Equal(t, "participant-joined", f["type"])
	assert.Equal(t, "DEMO42", f["roomId"])
	assert.Equal(t, alice.id, f["participantId"])
	assert.Equal(t, "Alice", f["name"])
	assert.Equal(t, true, f["isModerator"])
	assert.Equal(t, false, f["isMuted"])

	room, ok := h.registry.GetRoom("DEMO42")
	require.True(t, ok)
	assert.Equal(t, 1, room.ParticipantCount)
	assert.Equal(t, alice.id, room.HostID)
}

func TestJoin_SecondJoinerSeesSelfThenPeers(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))
	require.Equal(t, stateActive, bob.State())

	bobFrames := drainFrames(t, bob)
	require.Equal(t, []string{"participant-joined", "participant-joined"}, frameTypes(bobFrames))
	assert.Equal(t, bob.id, bobFrames[0]["participantId"], "own announcement comes first")
	assert.Equal(t, false, bobFrames[0]["isModerator"])
	assert.Equal(t, alice.id, bobFrames[1]["participantId"])
	assert.Equal(t, "Alice", bobFrames[1]["name"])
	assert.Equal(t, true, bobFrames[1]["isModerator"])

	aliceFrames := drainFrames(t, alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, "participant-joined", aliceFrames[0]["type"])
	assert.Equal(t, bob.id, aliceFrames[0]["participantId"])
}

func TestJoin_PasswordGate(t *testing.T) {
	h := newTestHub()
	creator := connect(h)
	h.dispatch(creator, frame(t, map[string]any{
		"type": "join", "roomId": "SEC999", "name": "Alice", "password": "hunter2",
	}))
	require.Equal(t, stateActive, creator.State())
	drainFrames(t, creator)

	eve := connect(h)
	h.dispatch(eve, frame(t, map[string]any{
		"type": "join", "roomId": "SEC999", "name": "Eve", "password": "wrong",
	}))

	frames := drainFrames(t, eve)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Equal(t, "Invalid room password", frames[0]["message"])
	assert.Equal(t, "INVALID_PASSWORD", frames[0]["code"])
	assert.Equal(t, stateUnbound, eve.State())
	assert.True(t, eve.IsOpen(), "rejected joiner keeps the socket for a retry")

	room, _ := h.registry.GetRoom("SEC999")
	assert.Equal(t, 1, room.ParticipantCount)
	assert.Empty(t, drainFrames(t, creator), "failed join is invisible to the room")

	// same socket, correct password
	h.dispatch(eve, frame(t, map[string]any{
		"type": "join", "roomId": "SEC999", "name": "Eve", "password": "hunter2",
	}))
	require.Equal(t, stateActive, eve.State())
	frames = drainFrames(t, eve)
	require.Len(t, frames, 2)
	assert.Equal(t, eve.id, frames[0]["participantId"])
}

func TestJoin_UnknownRoomWithoutHostIntent(t *testing.T) {
	h := newTestHub()
	c := connect(h)

	h.dispatch(c, frame(t, map[string]any{
		"type": "join", "roomId": "GHOST1", "name": "Bob", "isHost": false,
	}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "Room not found", frames[0]["message"])
	assert.Equal(t, "ROOM_NOT_FOUND", frames[0]["code"])
	assert.Equal(t, stateUnbound, c.State())

	_, ok := h.registry.GetRoom("GHOST1")
	assert.False(t, ok, "rejected join must not create the room")
}

func TestJoin_RoomFull(t *testing.T) {
	h := NewHub(registry.NewRegistry(nil, 2, 10, 24*time.Hour), nil, []string{"*"})
	joinAs(t, h, "TINY01", "Alice")
	joinAs(t, h, "TINY01", "Bob")

	carol := connect(h)
	h.dispatch(carol, frame(t, map[string]any{"type": "join", "roomId": "TINY01", "name": "Carol"}))

	frames := drainFrames(t, carol)
	require.Len(t, frames, 1)
	assert.Equal(t, "Room is full", frames[0]["message"])
	assert.Equal(t, stateUnbound, carol.State())
	assert.True(t, carol.IsOpen())
}

func TestJoin_LockedRoomParksCandidate(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))

	require.Equal(t, stateWaiting, bob.State())
	bobFrames := drainFrames(t, bob)
	require.Equal(t, []string{"waiting-room"}, frameTypes(bobFrames))
	assert.Equal(t, bob.id, bobFrames[0]["participantId"])
	assert.Equal(t, "Bob", bobFrames[0]["name"])

	aliceFrames := drainFrames(t, alice)
	require.Equal(t, []string{"waiting-room"}, frameTypes(aliceFrames), "moderators are notified")
	assert.Equal(t, bob.id, aliceFrames[0]["participantId"])

	room, _ := h.registry.GetRoom("DEMO42")
	assert.Equal(t, 1, room.ParticipantCount)
	assert.Equal(t, 1, room.WaitingCount)
}

func TestWaiting_InboundFramesIgnored(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))
	drainFrames(t, bob)

	h.dispatch(bob, frame(t, map[string]any{"type": "chat", "text": "let me in"}))
	h.dispatch(bob, frame(t, map[string]any{"type": "leave"}))

	assert.Empty(t, drainFrames(t, bob))
	assert.Empty(t, drainFrames(t, alice))
	assert.Equal(t, stateWaiting, bob.State())

	room, _ := h.registry.GetRoom("DEMO42")
	assert.Equal(t, 1, room.WaitingCount, "waiting candidates cannot act, including leave")
}

func TestAdmit_PromotesCandidateToParticipant(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))
	drainFrames(t, bob)

	h.dispatch(alice, frame(t, map[string]any{"type": "admit-user", "targetId": bob.id}))

	require.Equal(t, stateActive, bob.State())
	bobFrames := drainFrames(t, bob)
	require.Equal(t, []string{"participant-joined", "participant-joined"}, frameTypes(bobFrames))
	assert.Equal(t, bob.id, bobFrames[0]["participantId"])
	assert.Equal(t, alice.id, bobFrames[1]["participantId"])

	aliceFrames := drainFrames(t, alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, "participant-joined", aliceFrames[0]["type"])
	assert.Equal(t, bob.id, aliceFrames[0]["participantId"])

	room, _ := h.registry.GetRoom("DEMO42")
	assert.Equal(t, 2, room.ParticipantCount)
	assert.Equal(t, 0, room.WaitingCount)
}

func TestAdmit_RequiresModerator(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	carol := joinAs(t, h, "DEMO42", "Carol")
	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)
	drainFrames(t, carol)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))
	drainFrames(t, bob)
	drainFrames(t, alice)
	drainFrames(t, carol)

	h.dispatch(carol, frame(t, map[string]any{"type": "admit-user", "targetId": bob.id}))

	frames := drainFrames(t, carol)
	require.Len(t, frames, 1)
	assert.Equal(t, "Only moderators can perform this action", frames[0]["message"])
	assert.Equal(t, stateWaiting, bob.State())
}

func TestAdmit_FullRoomKeepsCandidateWaiting(t *testing.T) {
	h := NewHub(registry.NewRegistry(nil, 2, 10, 24*time.Hour), nil, []string{"*"})

	created, err := h.registry.PreCreateRoom(registry.PreCreateRequest{RoomID: "TINY01", MaxParticipants: 2})
	require.NoError(t, err)

	alice := connect(h)
	h.dispatch(alice, frame(t, map[string]any{
		"type": "join", "roomId": "TINY01", "name": "Alice", "creatorToken": created.CreatorToken,
	}))
	require.Equal(t, stateActive, alice.State())
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "TINY01", "name": "Bob"}))
	require.Equal(t, stateWaiting, bob.State())
	drainFrames(t, bob)
	drainFrames(t, alice)

	// the creator token walks through the lock and takes the last seat
	carol := connect(h)
	h.dispatch(carol, frame(t, map[string]any{
		"type": "join", "roomId": "TINY01", "name": "Carol", "creatorToken": created.CreatorToken,
	}))
	require.Equal(t, stateActive, carol.State())
	drainFrames(t, carol)
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{"type": "admit-user", "targetId": bob.id}))

	frames := drainFrames(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, "Room is full", frames[0]["message"])
	assert.Equal(t, stateWaiting, bob.State(), "failed admit leaves the candidate parked")

	room, _ := h.registry.GetRoom("TINY01")
	assert.Equal(t, 1, room.WaitingCount)
}

func TestReject_NotifiesThenCloses(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))
	drainFrames(t, alice)

	bob := connect(h)
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "DEMO42", "name": "Bob"}))
	drainFrames(t, bob)
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{
		"type": "reject-user", "targetId": bob.id, "reason": "meeting is private",
	}))

	bobFrames := drainFrames(t, bob)
	require.Equal(t, []string{"reject-user"}, frameTypes(bobFrames))
	assert.Equal(t, "meeting is private", bobFrames[0]["reason"])
	assert.Equal(t, bob.id, bobFrames[0]["targetId"])
	assert.False(t, bob.IsOpen(), "reject is a server-initiated close")

	room, _ := h.registry.GetRoom("DEMO42")
	assert.Equal(t, 0, room.WaitingCount)
}

func TestRelay_RewritesSenderAndDeliversOnlyToTarget(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	carol := joinAs(t, h, "DEMO42", "Carol")
	drainFrames(t, alice)
	drainFrames(t, bob)

	// spoofed identity fields are overwritten with the bound ones
	h.dispatch(bob, frame(t, map[string]any{
		"type":          "offer",
		"roomId":        "OTHER9",
		"participantId": "someone-else",
		"targetId":      alice.id,
		"sdp":           map[string]any{"type": "offer", "sdp": "v=0"},
	}))

	aliceFrames := drainFrames(t, alice)
	require.Len(t, aliceFrames, 1)
	f := aliceFrames[0]
	assert.Equal(t, "offer", f["type"])
	assert.Equal(t, bob.id, f["participantId"], "sender identity is server-assigned")
	assert.Equal(t, "DEMO42", f["roomId"])
	assert.Equal(t, alice.id, f["targetId"])
	require.IsType(t, map[string]any{}, f["sdp"])
	assert.Equal(t, "v=0", f["sdp"].(map[string]any)["sdp"], "payload passes through untouched")

	assert.Empty(t, drainFrames(t, carol), "relays are point to point")
	assert.Empty(t, drainFrames(t, bob), "relays do not echo")
}

func TestRelay_UnknownTargetDroppedSilently(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{
		"type": "ice-candidate", "targetId": "long-gone",
		"candidate": map[string]any{"candidate": "candidate:1"},
	}))

	assert.Empty(t, drainFrames(t, bob))
	assert.Empty(t, drainFrames(t, alice))
}

func TestRelay_AllTargetedTypes(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	payloads := []map[string]any{
		{"type": "offer", "sdp": map[string]any{"type": "offer", "sdp": "v=0"}},
		{"type": "answer", "sdp": map[string]any{"type": "answer", "sdp": "v=0"}},
		{"type": "ice-candidate", "candidate": map[string]any{"candidate": "candidate:1 1 udp"}},
		{"type": "file-offer", "fileName": "notes.pdf", "fileSize": 2048, "fileType": "application/pdf"},
		{"type": "file-answer", "accepted": true},
		{"type": "file-chunk", "chunk": "QUJDRA==", "index": 0, "total": 4},
		{"type": "quality-change", "quality": "low"},
	}
	for _, payload := range payloads {
		payload["targetId"] = alice.id
		h.dispatch(bob, frame(t, payload))

		frames := drainFrames(t, alice)
		require.Len(t, frames, 1, "type %s", payload["type"])
		assert.Equal(t, payload["type"], frames[0]["type"])
		assert.Equal(t, bob.id, frames[0]["participantId"], "type %s", payload["type"])
	}
}

func TestChat_BroadcastsToEveryoneIncludingSender(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{
		"type": "chat", "text": "hello room", "participantId": "spoof",
	}))

	for _, c := range []*Client{alice, bob} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "chat", frames[0]["type"])
		assert.Equal(t, "hello room", frames[0]["text"])
		assert.Equal(t, bob.id, frames[0]["participantId"], "chat echo carries the canonical sender id")
	}
}

func TestRaiseAndLowerHand(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{"type": "raise-hand"}))

	aliceFrames := drainFrames(t, alice)
	require.Len(t, aliceFrames, 1)
	f := aliceFrames[0]
	assert.Equal(t, "participant-updated", f["type"])
	assert.Equal(t, bob.id, f["participantId"])
	assert.Equal(t, true, f["isHandRaised"])
	assert.Equal(t, false, f["isMuted"], "the broadcast carries the full merged state")
	assert.Empty(t, drainFrames(t, bob), "state updates do not echo")

	h.dispatch(bob, frame(t, map[string]any{"type": "lower-hand"}))
	aliceFrames = drainFrames(t, alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, false, aliceFrames[0]["isHandRaised"])
}

func TestParticipantUpdated_MergesPatchAcrossMessages(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{"type": "participant-updated", "isMuted": true}))
	frames := drainFrames(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, true, frames[0]["isMuted"])
	assert.Equal(t, false, frames[0]["isVideoOff"])

	h.dispatch(bob, frame(t, map[string]any{"type": "participant-updated", "isVideoOff": true}))
	frames = drainFrames(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, true, frames[0]["isMuted"], "earlier patch survives the merge")
	assert.Equal(t, true, frames[0]["isVideoOff"])

	assert.Empty(t, drainFrames(t, bob))
}

func TestParticipantUpdated_CannotSelfPromote(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{"type": "participant-updated", "isModerator": true}))

	assert.Empty(t, drainFrames(t, alice))
	p, ok := h.registry.GetParticipant("DEMO42", bob.id)
	require.True(t, ok)
	assert.False(t, p.IsModerator)
}

func TestModerator_MuteReachesEveryone(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{
		"type": "moderator-action", "targetId": bob.id, "action": "mute",
	}))

	for _, c := range []*Client{alice, bob} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "participant-updated", frames[0]["type"])
		assert.Equal(t, bob.id, frames[0]["participantId"])
		assert.Equal(t, true, frames[0]["isMuted"])
	}

	h.dispatch(alice, frame(t, map[string]any{
		"type": "moderator-action", "targetId": bob.id, "action": "unmute",
	}))
	frames := drainFrames(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, false, frames[0]["isMuted"])
}

func TestModerator_ActionsRequireModeratorBit(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	for _, payload := range []map[string]any{
		{"type": "moderator-action", "targetId": alice.id, "action": "mute"},
		{"type": "moderator-action", "targetId": alice.id, "action": "kick"},
		{"type": "room-locked"},
		{"type": "room-unlocked"},
		{"type": "admit-user", "targetId": "anyone"},
		{"type": "reject-user", "targetId": "anyone"},
	} {
		h.dispatch(bob, frame(t, payload))
		frames := drainFrames(t, bob)
		require.Len(t, frames, 1, "payload %v", payload)
		assert.Equal(t, "Only moderators can perform this action", frames[0]["message"])
	}

	assert.Empty(t, drainFrames(t, alice))
	assert.True(t, bob.IsOpen())
}

func TestModerator_KickNoticePrecedesClose(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	carol := joinAs(t, h, "DEMO42", "Carol")
	drainFrames(t, alice)
	drainFrames(t, bob)

	h.dispatch(alice, frame(t, map[string]any{
		"type": "moderator-action", "targetId": bob.id, "action": "kick",
	}))

	bobFrames := drainFrames(t, bob)
	require.Equal(t, []string{"moderator-action"}, frameTypes(bobFrames))
	assert.Equal(t, "kick", bobFrames[0]["action"])
	assert.Equal(t, bob.id, bobFrames[0]["targetId"])
	assert.Equal(t, alice.id, bobFrames[0]["participantId"])
	assert.False(t, bob.IsOpen(), "kick closes after the notice is queued")

	for _, c := range []*Client{alice, carol} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "participant-left", frames[0]["type"])
		assert.Equal(t, bob.id, frames[0]["participantId"])
	}

	_, ok := h.registry.GetParticipant("DEMO42", bob.id)
	assert.False(t, ok)

	// the kicked socket's read loop ends next; its disconnect is a no-op
	h.handleDisconnect(bob)
	assert.Empty(t, drainFrames(t, alice), "no duplicate departure")
}

func TestModerator_KickUnknownTargetIsSilent(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")

	h.dispatch(alice, frame(t, map[string]any{
		"type": "moderator-action", "targetId": "long-gone", "action": "kick",
	}))

	assert.Empty(t, drainFrames(t, alice))
}

func TestModerator_MakeModeratorGrantsPowers(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{
		"type": "moderator-action", "targetId": bob.id, "action": "make-moderator",
	}))

	for _, c := range []*Client{alice, bob} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "participant-updated", frames[0]["type"])
		assert.Equal(t, bob.id, frames[0]["participantId"])
		assert.Equal(t, true, frames[0]["isModerator"])
	}

	// the grant is effective immediately
	h.dispatch(bob, frame(t, map[string]any{"type": "room-locked"}))
	frames := drainFrames(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, "room-locked", frames[0]["type"])
}

func TestLockUnlock_Broadcasts(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(alice, frame(t, map[string]any{"type": "room-locked"}))

	for _, c := range []*Client{alice, bob} {
		frames := drainFrames(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "room-locked", frames[0]["type"])
		assert.Equal(t, alice.id, frames[0]["lockedBy"])
	}
	room, _ := h.registry.GetRoom("DEMO42")
	assert.True(t, room.Locked)

	h.dispatch(alice, frame(t, map[string]any{"type": "room-unlocked"}))
	frames := drainFrames(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, "room-unlocked", frames[0]["type"])
	room, _ = h.registry.GetRoom("DEMO42")
	assert.False(t, room.Locked)
}

func TestLeave_UnbindsSocketForReuse(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	h.dispatch(bob, frame(t, map[string]any{"type": "leave"}))

	assert.Empty(t, drainFrames(t, bob), "leaver gets no departure frame")
	frames := drainFrames(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, "participant-left", frames[0]["type"])
	assert.Equal(t, bob.id, frames[0]["participantId"])

	assert.Equal(t, stateUnbound, bob.State())
	assert.True(t, bob.IsOpen())

	// the same socket can join another room
	h.dispatch(bob, frame(t, map[string]any{"type": "join", "roomId": "NEXT77", "name": "Bob"}))
	assert.Equal(t, stateActive, bob.State())
	assert.Equal(t, "NEXT77", bob.boundRoom())
}

func TestDeparture_PromotesEarliestJoiner(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	carol := joinAs(t, h, "DEMO42", "Carol")
	drainFrames(t, alice)
	drainFrames(t, bob)

	h.dispatch(alice, frame(t, map[string]any{"type": "leave"}))

	for _, c := range []*Client{bob, carol} {
		frames := drainFrames(t, c)
		require.Equal(t, []string{"participant-left", "participant-updated"}, frameTypes(frames))
		assert.Equal(t, alice.id, frames[0]["participantId"])
		assert.Equal(t, bob.id, frames[1]["participantId"], "longest-present participant takes over")
		assert.Equal(t, true, frames[1]["isModerator"])
	}

	p, ok := h.registry.GetParticipant("DEMO42", bob.id)
	require.True(t, ok)
	assert.True(t, p.IsModerator)
}

func TestServerOnlyTypesRejectedInbound(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")
	bob := joinAs(t, h, "DEMO42", "Bob")
	drainFrames(t, alice)

	for _, payload := range []map[string]any{
		{"type": "participant-joined", "name": "Mallory"},
		{"type": "participant-left"},
		{"type": "waiting-room", "name": "Mallory"},
		{"type": "error", "message": "fake"},
	} {
		h.dispatch(bob, frame(t, payload))
		frames := drainFrames(t, bob)
		require.Len(t, frames, 1, "payload %v", payload)
		assert.Equal(t, "Invalid message format", frames[0]["message"])
	}
	assert.Empty(t, drainFrames(t, alice))
}

func TestJoinWhileActiveIgnored(t *testing.T) {
	h := newTestHub()
	alice := joinAs(t, h, "DEMO42", "Alice")

	h.dispatch(alice, frame(t, map[string]any{"type": "join", "roomId": "OTHER9", "name": "Alice"}))

	assert.Empty(t, drainFrames(t, alice))
	assert.Equal(t, "DEMO42", alice.boundRoom())
	_, ok := h.registry.GetRoom("OTHER9")
	assert.False(t, ok)
}
