// Package protocol defines the JSON signaling envelopes exchanged over the
// WebSocket connection and the codec that validates them.
//
// Every envelope is a single-frame JSON text payload with a common header
// (type, roomId, participantId, timestamp) plus variant-specific fields.
// The set of types is closed: decoding an unknown type is an error.
package protocol

import "encoding/json"

// Type tags a signaling envelope.
type Type string

const (
	// Inbound (client -> server)
	TypeJoin          Type = "join"
	TypeLeave         Type = "leave"
	TypeOffer         Type = "offer"
	TypeAnswer        Type = "answer"
	TypeICECandidate  Type = "ice-candidate"
	TypeFileOffer     Type = "file-offer"
	TypeFileAnswer    Type = "file-answer"
	TypeFileChunk     Type = "file-chunk"
	TypeQualityChange Type = "quality-change"
	TypeChat          Type = "chat"
	TypeRaiseHand     Type = "raise-hand"
	TypeLowerHand     Type = "lower-hand"
	TypeModerator     Type = "moderator-action"
	TypeRoomLocked    Type = "room-locked"
	TypeRoomUnlocked  Type = "room-unlocked"
	TypeAdmitUser     Type = "admit-user"
	TypeRejectUser    Type = "reject-user"

	// Outbound (server -> client) and bidirectional state
	TypeParticipantJoined  Type = "participant-joined"
	TypeParticipantLeft    Type = "participant-left"
	TypeParticipantUpdated Type = "participant-updated"
	TypeWaitingRoom        Type = "waiting-room"
	TypeError              Type = "error"
)

// IsRelay reports whether envelopes of this type are forwarded verbatim to a
// single target participant without mutating room state.
func (t Type) IsRelay() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeFileOffer, TypeFileAnswer, TypeFileChunk,
		TypeQualityChange:
		return true
	}
	return false
}

// Moderator actions carried by a moderator-action envelope.
const (
	ActionMute          = "mute"
	ActionUnmute        = "unmute"
	ActionKick          = "kick"
	ActionMakeModerator = "make-moderator"
)

// Error codes carried by error envelopes.
const (
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
)

// Header carries the fields common to every envelope.
//
// On inbound envelopes participantId is authoritative only for join, where
// the sender has no server-known identity yet. Everywhere else the server
// substitutes the bound participant's id before relaying.
type Header struct {
	Type          Type   `json:"type"`
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Timestamp     int64  `json:"timestamp"`
}

// Hdr returns the embedded header, letting variants satisfy Message.
func (h *Header) Hdr() *Header { return h }

// Message is any decoded signaling envelope.
type Message interface {
	Hdr() *Header
}

// Targeted is implemented by envelopes addressed to a single participant.
type Targeted interface {
	Message
	Target() string
}

// Join requests entry into a room. Password, isHost and creatorToken are
// optional; name is the free-form display name shown to peers.
type Join struct {
	Header
	Name         string `json:"name"`
	Password     string `json:"password,omitempty"`
	IsHost       bool   `json:"isHost,omitempty"`
	CreatorToken string `json:"creatorToken,omitempty"`
}

// Leave announces a voluntary exit. Carries header fields only.
type Leave struct {
	Header
}

// Offer relays an SDP offer to targetId. The sdp body is opaque to the
// server and forwarded untouched.
type Offer struct {
	Header
	TargetID string          `json:"targetId"`
	SDP      json.RawMessage `json:"sdp"`
}

func (m *Offer) Target() string { return m.TargetID }

// Answer relays an SDP answer to targetId.
type Answer struct {
	Header
	TargetID string          `json:"targetId"`
	SDP      json.RawMessage `json:"sdp"`
}

func (m *Answer) Target() string { return m.TargetID }

// ICECandidate relays one ICE candidate object to targetId.
type ICECandidate struct {
	Header
	TargetID  string          `json:"targetId"`
	Candidate json.RawMessage `json:"candidate"`
}

func (m *ICECandidate) Target() string { return m.TargetID }

// FileOffer proposes a peer-to-peer file transfer to targetId.
type FileOffer struct {
	Header
	TargetID string `json:"targetId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

func (m *FileOffer) Target() string { return m.TargetID }

// FileAnswer accepts or declines a pending file offer.
type FileAnswer struct {
	Header
	TargetID string `json:"targetId"`
	Accepted bool   `json:"accepted"`
}

func (m *FileAnswer) Target() string { return m.TargetID }

// FileChunk carries one base64 chunk of an accepted transfer.
type FileChunk struct {
	Header
	TargetID string `json:"targetId"`
	Chunk    string `json:"chunk"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

func (m *FileChunk) Target() string { return m.TargetID }

// QualityChange asks targetId to switch its outgoing stream quality.
type QualityChange struct {
	Header
	TargetID string `json:"targetId"`
	Quality  string `json:"quality"`
}

func (m *QualityChange) Target() string { return m.TargetID }

// Chat is broadcast to the whole room and echoed back to the sender.
type Chat struct {
	Header
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// RaiseHand sets the sender's hand-raised flag.
type RaiseHand struct {
	Header
}

// LowerHand clears the sender's hand-raised flag.
type LowerHand struct {
	Header
}

// ModeratorAction applies a moderator command to targetId.
type ModeratorAction struct {
	Header
	TargetID string `json:"targetId"`
	Action   string `json:"action"`
}

func (m *ModeratorAction) Target() string { return m.TargetID }

// RoomLocked toggles the lock on (inbound) or announces it (outbound).
type RoomLocked struct {
	Header
	LockedBy string `json:"lockedBy,omitempty"`
}

// RoomUnlocked clears the lock (inbound) or announces it (outbound).
type RoomUnlocked struct {
	Header
	UnlockedBy string `json:"unlockedBy,omitempty"`
}

// AdmitUser moves a waiting participant identified by targetId into the room.
type AdmitUser struct {
	Header
	TargetID string `json:"targetId"`
}

func (m *AdmitUser) Target() string { return m.TargetID }

// RejectUser turns away a waiting participant identified by targetId.
type RejectUser struct {
	Header
	TargetID string `json:"targetId"`
	Reason   string `json:"reason,omitempty"`
}

func (m *RejectUser) Target() string { return m.TargetID }

// ParticipantJoined announces a new (or newly admitted) room member.
// The flags are always marshalled so clients never have to guess defaults.
type ParticipantJoined struct {
	Header
	Name        string `json:"name"`
	IsModerator bool   `json:"isModerator"`
	IsMuted     bool   `json:"isMuted"`
	IsVideoOff  bool   `json:"isVideoOff"`
}

// ParticipantLeft announces a departure; participantId identifies who left.
type ParticipantLeft struct {
	Header
}

// ParticipantUpdated carries a partial state change. Inbound, nil pointers
// mean "field not in the patch"; outbound, the server sends the full merged
// state with every pointer set. isModerator is outbound-only; clients can
// never patch their own moderator bit, it moves through moderator-action.
type ParticipantUpdated struct {
	Header
	IsMuted      *bool `json:"isMuted,omitempty"`
	IsVideoOff   *bool `json:"isVideoOff,omitempty"`
	IsHandRaised *bool `json:"isHandRaised,omitempty"`
	IsModerator  *bool `json:"isModerator,omitempty"`
}

// WaitingRoom notifies the candidate (and every moderator) that a join is
// pending review. The candidate's id travels in participantId.
type WaitingRoom struct {
	Header
	Name string `json:"name"`
}

// Error reports a protocol, authentication, capacity or authorization
// failure. Code is set only for the stable, client-matchable cases.
type Error struct {
	Header
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
