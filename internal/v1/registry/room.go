package registry

import (
	"time"
)

// Room is a named container for one meeting. Rooms are owned by the Registry
// and every method with the Locked suffix assumes the registry lock is held.
type Room struct {
	ID string

	participants map[string]*Participant
	joinOrder    []string // participant ids in arrival order, drives host promotion
	waiting      map[string]*WaitingParticipant

	password        string
	locked          bool
	hostID          string
	createdAt       time.Time
	maxParticipants int
	creatorToken    string
	preCreated      bool
}

// RoomConfig carries the optional knobs applied when a room is created.
// Zero values fall back to registry defaults.
type RoomConfig struct {
	Password        string
	MaxParticipants int
	CreatorToken    string
	PreCreated      bool
}

func newRoom(id string, cfg RoomConfig, defaultMax int) *Room {
	max := cfg.MaxParticipants
	if max <= 0 {
		max = defaultMax
	}
	return &Room{
		ID:              id,
		participants:    make(map[string]*Participant),
		waiting:         make(map[string]*WaitingParticipant),
		password:        cfg.Password,
		createdAt:       time.Now(),
		maxParticipants: max,
		creatorToken:    cfg.CreatorToken,
		preCreated:      cfg.PreCreated,
	}
}

func (r *Room) isEmptyLocked() bool {
	return len(r.participants) == 0
}

func (r *Room) isFullLocked() bool {
	return len(r.participants) >= r.maxParticipants
}

// isLatentLocked reports whether the room counts against the latent cap:
// pre-created and currently empty.
func (r *Room) isLatentLocked() bool {
	return r.preCreated && r.isEmptyLocked()
}

// addParticipantLocked inserts p and assigns host and moderator bits. The
// first participant always becomes host; asHost forces the assignment for
// later joiners (creator bypass and explicit host claims).
func (r *Room) addParticipantLocked(p *Participant, asHost bool) {
	if r.isEmptyLocked() {
		asHost = true
	}

	r.participants[p.ID] = p
	r.joinOrder = append(r.joinOrder, p.ID)

	if asHost {
		p.IsModerator = true
		r.hostID = p.ID
	}
}

// removeParticipantLocked deletes pid and, when the host leaves with others
// remaining, promotes the longest-present survivor. Returns the removed
// participant and the promoted one (nil when no promotion happened).
func (r *Room) removeParticipantLocked(pid string) (removed *Participant, promoted *Participant) {
	p, ok := r.participants[pid]
	if !ok {
		return nil, nil
	}
	delete(r.participants, pid)

	for i, id := range r.joinOrder {
		if id == pid {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}

	if r.hostID == pid {
		r.hostID = ""
		if len(r.joinOrder) > 0 {
			next := r.participants[r.joinOrder[0]]
			next.IsModerator = true
			r.hostID = next.ID
			promoted = next
		}
	}

	return p, promoted
}

// snapshotLocked returns the room's externally visible state.
func (r *Room) snapshotLocked() RoomInfo {
	return RoomInfo{
		ID:               r.ID,
		ParticipantCount: len(r.participants),
		WaitingCount:     len(r.waiting),
		MaxParticipants:  r.maxParticipants,
		Locked:           r.locked,
		HasPassword:      r.password != "",
		HostID:           r.hostID,
		PreCreated:       r.preCreated,
		CreatedAt:        r.createdAt,
	}
}

// participantsLocked lists participant snapshots in arrival order.
func (r *Room) participantsLocked() []ParticipantInfo {
	infos := make([]ParticipantInfo, 0, len(r.participants))
	for _, id := range r.joinOrder {
		if p, ok := r.participants[id]; ok {
			infos = append(infos, p.snapshot())
		}
	}
	return infos
}

// moderatorsLocked lists the participants holding the moderator bit.
func (r *Room) moderatorsLocked() []*Participant {
	mods := make([]*Participant, 0, 2)
	for _, id := range r.joinOrder {
		if p, ok := r.participants[id]; ok && p.IsModerator {
			mods = append(mods, p)
		}
	}
	return mods
}

// RoomInfo is an immutable snapshot of a room's externally visible state.
type RoomInfo struct {
	ID               string
	ParticipantCount int
	WaitingCount     int
	MaxParticipants  int
	Locked           bool
	HasPassword      bool
	HostID           string
	PreCreated       bool
	CreatedAt        time.Time
}
