package registry

import "time"

// Sender is the minimal outbound surface of a signaling connection. The
// registry fans out through it without knowing anything about WebSocket
// framing; the transport layer provides the implementation.
type Sender interface {
	Send(data []byte)
	Close()
	IsOpen() bool
}

// Participant is an admitted, live member of exactly one room. Instances are
// owned by the Registry; all field access happens under the registry lock.
type Participant struct {
	ID           string
	Name         string
	RoomID       string
	IsModerator  bool
	IsMuted      bool
	IsVideoOff   bool
	IsHandRaised bool
	JoinedAt     time.Time

	conn Sender
}

// NewParticipant builds a participant bound to its outbound connection.
// Role flags start cleared; AddParticipant assigns host and moderator bits.
func NewParticipant(id, name, roomID string, conn Sender) *Participant {
	return &Participant{
		ID:       id,
		Name:     name,
		RoomID:   roomID,
		JoinedAt: time.Now(),
		conn:     conn,
	}
}

func (p *Participant) snapshot() ParticipantInfo {
	return ParticipantInfo{
		ID:           p.ID,
		Name:         p.Name,
		IsModerator:  p.IsModerator,
		IsMuted:      p.IsMuted,
		IsVideoOff:   p.IsVideoOff,
		IsHandRaised: p.IsHandRaised,
		JoinedAt:     p.JoinedAt,
	}
}

// WaitingParticipant is a candidate parked in a room's waiting map until a
// moderator admits or rejects them.
type WaitingParticipant struct {
	ID          string
	Name        string
	RoomID      string
	RequestedAt time.Time

	conn Sender
}

// NewWaitingParticipant builds a waiting-room candidate bound to its
// connection.
func NewWaitingParticipant(id, name, roomID string, conn Sender) *WaitingParticipant {
	return &WaitingParticipant{
		ID:          id,
		Name:        name,
		RoomID:      roomID,
		RequestedAt: time.Now(),
		conn:        conn,
	}
}

func (w *WaitingParticipant) snapshot() WaitingInfo {
	return WaitingInfo{
		ID:          w.ID,
		Name:        w.Name,
		RequestedAt: w.RequestedAt,
	}
}

// ParticipantInfo is an immutable snapshot handed across the registry
// boundary so callers never hold live pointers into locked state.
type ParticipantInfo struct {
	ID           string
	Name         string
	IsModerator  bool
	IsMuted      bool
	IsVideoOff   bool
	IsHandRaised bool
	JoinedAt     time.Time
}

// WaitingInfo is the snapshot form of a waiting-room candidate.
type WaitingInfo struct {
	ID          string
	Name        string
	RequestedAt time.Time
}

// ParticipantPatch is the merge set accepted by UpdateParticipant. Nil
// pointers leave the corresponding field untouched. Identity fields (id,
// room, join time) are never patchable.
type ParticipantPatch struct {
	IsMuted      *bool
	IsVideoOff   *bool
	IsHandRaised *bool
}
