package transport

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/ptr"

	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/metrics"
	"github.com/huddlehq/huddle/internal/v1/protocol"
	"github.com/huddlehq/huddle/internal/v1/registry"
)

// dispatch handles one inbound frame. Decode failures answer with a generic
// error envelope and leave the socket open; a panic in any handler is
// contained to the offending message.
func (h *Hub) dispatch(c *Client, data []byte) {
	start := time.Now()
	eventType := "invalid"
	status := "error"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			logging.Error(context.Background(), "Recovered from panic in message handler",
				zap.String("clientId", c.id), zap.Any("panic", r), zap.Stack("stack"))
		}
		metrics.SignalingEvents.WithLabelValues(eventType, status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	msg, err := protocol.Decode(data)
	if err != nil {
		logging.Warn(context.Background(), "Rejected malformed envelope",
			zap.String("clientId", c.id), zap.Error(err))
		c.Send(protocol.MustEncode(protocol.NewError(c.boundRoom(), "", "Invalid message format", "")))
		return
	}
	eventType = string(msg.Hdr().Type)

	state, _ := c.binding()
	switch state {
	case stateClosed:
		status = "dropped"
	case stateWaiting:
		// Parked candidates have no voice until admitted; only their socket
		// closing is meaningful.
		status = "dropped"
	case stateUnbound:
		if join, ok := msg.(*protocol.Join); ok {
			status = h.handleJoin(c, join)
			return
		}
		c.Send(protocol.MustEncode(protocol.NewError("", "", "Not joined to a room", "")))
		status = "denied"
	case stateActive:
		status = h.routeActive(c, msg)
	}
}

// routeActive routes envelopes from a live participant. The bound room is
// authoritative; roomId fields inside the envelope are ignored.
func (h *Hub) routeActive(c *Client, msg protocol.Message) string {
	roomID := c.boundRoom()

	if msg.Hdr().Type.IsRelay() {
		return h.handleRelay(c, msg, roomID)
	}

	switch m := msg.(type) {
	case *protocol.Leave:
		return h.handleLeave(c, roomID)
	case *protocol.Chat:
		return h.handleChat(c, m, roomID)
	case *protocol.RaiseHand:
		return h.handleStatePatch(c, roomID, registry.ParticipantPatch{IsHandRaised: ptr.To(true)})
	case *protocol.LowerHand:
		return h.handleStatePatch(c, roomID, registry.ParticipantPatch{IsHandRaised: ptr.To(false)})
	case *protocol.ParticipantUpdated:
		// Only the AV flags are client-patchable.
		patch := registry.ParticipantPatch{IsMuted: m.IsMuted, IsVideoOff: m.IsVideoOff, IsHandRaised: m.IsHandRaised}
		if patch == (registry.ParticipantPatch{}) {
			return "dropped"
		}
		return h.handleStatePatch(c, roomID, patch)
	case *protocol.ModeratorAction:
		return h.handleModeratorAction(c, m, roomID)
	case *protocol.RoomLocked:
		return h.handleLock(c, roomID, true)
	case *protocol.RoomUnlocked:
		return h.handleLock(c, roomID, false)
	case *protocol.AdmitUser:
		return h.handleAdmit(c, m, roomID)
	case *protocol.RejectUser:
		return h.handleReject(c, m, roomID)
	case *protocol.Join:
		// Already bound; a second join is a client bug, not a room change.
		logging.Warn(context.Background(), "Ignoring join from bound client",
			zap.String("clientId", c.id), zap.String("roomId", roomID))
		return "dropped"
	default:
		// Server-only envelope types have no inbound meaning.
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Invalid message format", "")))
		return "denied"
	}
}

// handleJoin runs the admission pipeline: gate checks, then either an error
// envelope, a waiting-room park, or the full participant insert with its
// three-way fan-out.
func (h *Hub) handleJoin(c *Client, join *protocol.Join) string {
	roomID := join.RoomID
	info, exists := h.registry.GetRoom(roomID)
	passwordOK := h.registry.ValidatePassword(roomID, join.Password)
	tokenValid := h.registry.ValidateCreatorToken(roomID, join.CreatorToken)

	verdict := registry.DecideJoin(registry.JoinRequest{
		RoomID:       roomID,
		Name:         join.Name,
		Password:     join.Password,
		IsHost:       join.IsHost,
		CreatorToken: join.CreatorToken,
	}, exists, exists && info.Locked, passwordOK, tokenValid)

	switch verdict.Decision {
	case registry.DecisionReject:
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", verdict.ErrorMessage, verdict.ErrorCode)))
		return "rejected"

	case registry.DecisionWait:
		wp := registry.NewWaitingParticipant(c.id, join.Name, roomID, c)
		if err := h.registry.AddToWaitingRoom(roomID, wp); err != nil {
			return h.sendJoinFailure(c, roomID, err)
		}
		c.bind(wp.RoomID, join.Name, stateWaiting)

		notice := protocol.MustEncode(protocol.NewWaitingRoom(wp.RoomID, c.id, join.Name))
		c.Send(notice)
		h.registry.BroadcastToModerators(wp.RoomID, notice)

		logging.Info(context.Background(), "Join parked in waiting room",
			zap.String("roomId", wp.RoomID), zap.String("participantId", c.id))
		return "waiting"

	default: // DecisionAdmit
		p := registry.NewParticipant(c.id, join.Name, roomID, c)
		if err := h.registry.AddParticipant(roomID, p, verdict.AsHost, registry.RoomConfig{Password: join.Password}); err != nil {
			return h.sendJoinFailure(c, roomID, err)
		}
		c.bind(p.RoomID, join.Name, stateActive)
		h.announceJoin(p.RoomID, c.id)
		return "ok"
	}
}

// sendJoinFailure maps registry insert errors to their client envelopes.
func (h *Hub) sendJoinFailure(c *Client, roomID string, err error) string {
	switch {
	case errors.Is(err, registry.ErrRoomFull):
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Room is full", "")))
	case errors.Is(err, registry.ErrWrongPassword):
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Invalid room password", protocol.CodeInvalidPassword)))
	case errors.Is(err, registry.ErrRoomNotFound):
		c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Room not found", protocol.CodeRoomNotFound)))
	default:
		logging.Error(context.Background(), "Join failed",
			zap.String("roomId", roomID), zap.String("clientId", c.id), zap.Error(err))
	}
	return "rejected"
}

// announceJoin performs the three-way participant-joined fan-out: announce
// the newcomer to the room, tell the newcomer its own identity, then
// enumerate the existing peers to the newcomer. All frames are queued before
// the joiner's next inbound message is read, so peers always learn the
// newcomer's id before any of its relay traffic.
func (h *Hub) announceJoin(roomID, joinerID string) {
	peers := h.registry.Participants(roomID)

	var self registry.ParticipantInfo
	for _, p := range peers {
		if p.ID == joinerID {
			self = p
			break
		}
	}
	if self.ID == "" {
		// The joiner disconnected between insert and announce; the departure
		// path already cleaned up.
		return
	}

	selfFrame := protocol.MustEncode(protocol.NewParticipantJoined(
		roomID, self.ID, self.Name, self.IsModerator, self.IsMuted, self.IsVideoOff))
	h.registry.Broadcast(roomID, selfFrame, joinerID)
	h.registry.SendTo(roomID, joinerID, selfFrame)

	for _, p := range peers {
		if p.ID == joinerID {
			continue
		}
		h.registry.SendTo(roomID, joinerID, protocol.MustEncode(protocol.NewParticipantJoined(
			roomID, p.ID, p.Name, p.IsModerator, p.IsMuted, p.IsVideoOff)))
	}

	logging.Info(context.Background(), "Participant announced",
		zap.String("roomId", roomID),
		zap.String("participantId", joinerID),
		zap.Int("peers", len(peers)-1))
}

// handleLeave removes the participant and unbinds the socket, which stays
// open for a future join. A following socket close finds nothing to remove.
func (h *Hub) handleLeave(c *Client, roomID string) string {
	if result, ok := h.registry.RemoveParticipant(roomID, c.id); ok {
		h.announceDeparture(roomID, c.id, result)
	}
	c.clearBinding()
	return "ok"
}

// handleRelay forwards a targeted envelope to its single recipient with the
// sender identity rewritten to the server-known id. No broadcast, no echo;
// a missing target drops the frame silently.
func (h *Hub) handleRelay(c *Client, msg protocol.Message, roomID string) string {
	t, ok := msg.(protocol.Targeted)
	if !ok {
		return "error"
	}

	hdr := msg.Hdr()
	hdr.RoomID = roomID
	hdr.ParticipantID = c.id

	data, err := protocol.Encode(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to re-encode relay envelope", zap.Error(err))
		return "error"
	}

	if !h.registry.SendTo(roomID, t.Target(), data) {
		logging.GetLogger().Debug("Relay target not available",
			zap.String("roomId", roomID), zap.String("targetId", t.Target()))
		return "dropped"
	}
	return "ok"
}

// handleChat rewrites the sender identity and fans the message out to the
// whole room including the sender, so every client shares one ordering.
func (h *Hub) handleChat(c *Client, m *protocol.Chat, roomID string) string {
	hdr := m.Hdr()
	hdr.RoomID = roomID
	hdr.ParticipantID = c.id

	data, err := protocol.Encode(m)
	if err != nil {
		logging.Error(context.Background(), "Failed to re-encode chat envelope", zap.Error(err))
		return "error"
	}

	h.registry.Broadcast(roomID, data, "")
	return "ok"
}

// handleStatePatch merges a self-update and broadcasts the merged state to
// the other participants. Deliberately no echo; the sender already knows.
func (h *Hub) handleStatePatch(c *Client, roomID string, patch registry.ParticipantPatch) string {
	merged, ok := h.registry.UpdateParticipant(roomID, c.id, patch)
	if !ok {
		return "dropped"
	}
	h.broadcastState(roomID, merged, c.id)
	return "ok"
}

// broadcastState fans out a full merged participant-updated snapshot.
func (h *Hub) broadcastState(roomID string, p registry.ParticipantInfo, excludeID string) {
	frame := protocol.MustEncode(protocol.NewParticipantUpdated(
		roomID, p.ID, p.IsMuted, p.IsVideoOff, p.IsHandRaised, p.IsModerator))
	h.registry.Broadcast(roomID, frame, excludeID)
}

// requireModerator verifies the sender holds the moderator bit, answering
// with the authorization error when not.
func (h *Hub) requireModerator(c *Client, roomID string) bool {
	actor, ok := h.registry.GetParticipant(roomID, c.id)
	if ok && actor.IsModerator {
		return true
	}
	c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Only moderators can perform this action", "")))
	return false
}

// handleModeratorAction enforces mute, unmute, kick and make-moderator
// against a target in the sender's room.
func (h *Hub) handleModeratorAction(c *Client, act *protocol.ModeratorAction, roomID string) string {
	if !h.requireModerator(c, roomID) {
		return "denied"
	}

	if _, ok := h.registry.GetParticipant(roomID, act.TargetID); !ok {
		logging.GetLogger().Debug("Moderator action on unknown target",
			zap.String("roomId", roomID), zap.String("targetId", act.TargetID))
		return "dropped"
	}

	switch act.Action {
	case protocol.ActionMute, protocol.ActionUnmute:
		merged, ok := h.registry.UpdateParticipant(roomID, act.TargetID,
			registry.ParticipantPatch{IsMuted: ptr.To(act.Action == protocol.ActionMute)})
		if !ok {
			return "dropped"
		}
		h.broadcastState(roomID, merged, "")
		return "ok"

	case protocol.ActionKick:
		// The courtesy notice is queued first; the kick drains it to the
		// target before the close frame.
		notice := protocol.MustEncode(protocol.NewModeratorAction(roomID, c.id, act.TargetID, protocol.ActionKick))
		h.registry.SendTo(roomID, act.TargetID, notice)

		result, ok := h.registry.KickParticipant(roomID, act.TargetID)
		if !ok {
			return "dropped"
		}
		h.announceDeparture(roomID, act.TargetID, result)

		logging.Info(context.Background(), "Participant kicked by moderator",
			zap.String("roomId", roomID),
			zap.String("targetId", act.TargetID),
			zap.String("moderatorId", c.id))
		return "ok"

	case protocol.ActionMakeModerator:
		info, ok := h.registry.SetModerator(roomID, act.TargetID)
		if !ok {
			return "dropped"
		}
		h.broadcastState(roomID, info, "")
		return "ok"
	}

	return "dropped"
}

// handleLock toggles the room lock and announces it to everyone.
func (h *Hub) handleLock(c *Client, roomID string, locked bool) string {
	if !h.requireModerator(c, roomID) {
		return "denied"
	}

	var changed bool
	var frame []byte
	if locked {
		changed = h.registry.LockRoom(roomID)
		frame = protocol.MustEncode(protocol.NewRoomLocked(roomID, c.id))
	} else {
		changed = h.registry.UnlockRoom(roomID)
		frame = protocol.MustEncode(protocol.NewRoomUnlocked(roomID, c.id))
	}
	if !changed {
		return "dropped"
	}

	h.registry.Broadcast(roomID, frame, "")
	return "ok"
}

// handleAdmit turns a waiting candidate into a participant, re-binds their
// socket and replays the join fan-out for them.
func (h *Hub) handleAdmit(c *Client, adm *protocol.AdmitUser, roomID string) string {
	if !h.requireModerator(c, roomID) {
		return "denied"
	}

	admitted, err := h.registry.AdmitFromWaitingRoom(roomID, adm.TargetID)
	if err != nil {
		if errors.Is(err, registry.ErrRoomFull) {
			c.Send(protocol.MustEncode(protocol.NewError(roomID, "", "Room is full", "")))
			return "rejected"
		}
		logging.GetLogger().Debug("Admit failed",
			zap.String("roomId", roomID), zap.String("targetId", adm.TargetID), zap.Error(err))
		return "dropped"
	}

	if target, ok := h.lookupClient(adm.TargetID); ok {
		target.bind(roomID, admitted.Name, stateActive)
	}
	h.announceJoin(roomID, adm.TargetID)

	logging.Info(context.Background(), "Waiting candidate admitted",
		zap.String("roomId", roomID),
		zap.String("targetId", adm.TargetID),
		zap.String("moderatorId", c.id))
	return "ok"
}

// handleReject declines a waiting candidate: notice first, then the server
// closes their socket. This and kick are the only server-initiated closes.
func (h *Hub) handleReject(c *Client, rej *protocol.RejectUser, roomID string) string {
	if !h.requireModerator(c, roomID) {
		return "denied"
	}

	if _, ok := h.registry.RejectFromWaitingRoom(roomID, rej.TargetID); !ok {
		return "dropped"
	}

	if target, ok := h.lookupClient(rej.TargetID); ok {
		target.Send(protocol.MustEncode(protocol.NewRejectUser(roomID, c.id, rej.TargetID, rej.Reason)))
		target.clearBinding()
		target.Close()
	}

	logging.Info(context.Background(), "Waiting candidate rejected",
		zap.String("roomId", roomID),
		zap.String("targetId", rej.TargetID),
		zap.String("moderatorId", c.id))
	return "ok"
}
