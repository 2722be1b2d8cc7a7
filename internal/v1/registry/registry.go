// Package registry owns all room, participant and waiting-room state for the
// signaling server. It is the single source of truth: every mutation passes
// through a Registry method, executes under one coarse lock, and leaves the
// room invariants intact (capacity bound, host existence, no empty ad-hoc
// rooms, waiting/participant exclusivity).
//
// The registry knows connections only through the Sender interface and hands
// out immutable snapshots, never live pointers into locked state.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/metrics"
)

var (
	// ErrRoomNotFound is returned for operations against unknown rooms.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when an add or admit would exceed capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomExists is returned when pre-creating a room whose id collides.
	ErrRoomExists = errors.New("room already exists")
	// ErrLatentLimit is returned when the latent room cap is reached.
	ErrLatentLimit = errors.New("latent room limit reached")
	// ErrParticipantNotFound is returned when the referenced participant or
	// waiting candidate does not exist.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrWrongPassword is returned when the presented password no longer
	// matches at insertion time (the room appeared between gate and add).
	ErrWrongPassword = errors.New("wrong room password")
)

// LatentRoom is the persisted form of a pre-created room.
type LatentRoom struct {
	RoomID          string `json:"roomId"`
	Password        string `json:"password,omitempty"`
	CreatorToken    string `json:"creatorToken"`
	CreatedAt       int64  `json:"createdAt"`
	MaxParticipants int    `json:"maxParticipants"`
}

// Store persists the latent room set. Implementations must be safe for
// concurrent use; the registry calls Save outside its own lock.
type Store interface {
	Save(entries []LatentRoom) error
}

// PreCreateRequest carries the optional knobs of a room pre-creation call.
type PreCreateRequest struct {
	RoomID          string
	Password        string
	MaxParticipants int
}

// PreCreatedRoom is the result of a successful pre-creation.
type PreCreatedRoom struct {
	RoomID       string
	CreatorToken string
}

// RemovalResult describes the observable effects of removing a participant.
type RemovalResult struct {
	Removed     ParticipantInfo
	Promoted    *ParticipantInfo // set when the host left and a survivor was promoted
	RoomDeleted bool
}

// Stats is the aggregate view served by the health endpoint.
type Stats struct {
	TotalRooms        int
	TotalParticipants int
	PeakParticipants  int
}

// Registry is the concurrent room store. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	defaultMaxParticipants int
	maxLatentRooms         int
	latentRoomMaxAge       time.Duration

	store Store

	peakParticipants int
}

// NewRegistry builds a registry. store may be nil to disable latent room
// persistence (in-memory state stays authoritative either way).
func NewRegistry(store Store, defaultMaxParticipants, maxLatentRooms int, latentRoomMaxAge time.Duration) *Registry {
	return &Registry{
		rooms:                  make(map[string]*Room),
		defaultMaxParticipants: defaultMaxParticipants,
		maxLatentRooms:         maxLatentRooms,
		latentRoomMaxAge:       latentRoomMaxAge,
		store:                  store,
	}
}

// normalizeRoomID case-normalizes a room id; room codes are case-insensitive
// on the wire.
func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// GetRoom returns a snapshot of the room, if present.
func (reg *Registry) GetRoom(roomID string) (RoomInfo, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return RoomInfo{}, false
	}
	return r.snapshotLocked(), true
}

// GetParticipant returns a snapshot of one room member, if present.
func (reg *Registry) GetParticipant(roomID, pid string) (ParticipantInfo, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return ParticipantInfo{}, false
	}
	p, ok := r.participants[pid]
	if !ok {
		return ParticipantInfo{}, false
	}
	return p.snapshot(), true
}

// Participants lists the room's members in arrival order.
func (reg *Registry) Participants(roomID string) []ParticipantInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return nil
	}
	return r.participantsLocked()
}

// ValidatePassword implements the password gate. Unknown rooms validate so
// the first joiner can set the password at creation time.
func (reg *Registry) ValidatePassword(roomID, candidate string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return true
	}
	return passwordMatches(r.password, candidate)
}

// ValidateCreatorToken checks a bearer token against the room's stored one.
func (reg *Registry) ValidateCreatorToken(roomID, token string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return false
	}
	return tokenMatches(r.creatorToken, token)
}

// AddParticipant inserts p into the room, creating the room first when it
// does not exist yet (cfg supplies the new room's password and capacity).
// Both steps run under one lock acquisition so no observer ever sees an
// empty ad-hoc room. The presented password is re-checked against rooms that
// appeared after the caller's admission gate ran.
func (reg *Registry) AddParticipant(roomID string, p *Participant, asHost bool, cfg RoomConfig) error {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID, cfg, reg.defaultMaxParticipants)
		reg.rooms[roomID] = r
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "Created room", zap.String("roomId", roomID), zap.Bool("hasPassword", r.password != ""))
	} else if !passwordMatches(r.password, cfg.Password) {
		return ErrWrongPassword
	}

	if r.isFullLocked() {
		return ErrRoomFull
	}

	p.RoomID = roomID
	r.addParticipantLocked(p, asHost)
	reg.trackOccupancyLocked(r)

	logging.Info(context.Background(), "Participant joined",
		zap.String("roomId", roomID),
		zap.String("participantId", p.ID),
		zap.Bool("isModerator", p.IsModerator))
	return nil
}

// RemoveParticipant deletes pid from the room, promoting a new host when
// needed and deleting newly empty ad-hoc rooms.
func (reg *Registry) RemoveParticipant(roomID, pid string) (RemovalResult, bool) {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return RemovalResult{}, false
	}

	removed, promoted := r.removeParticipantLocked(pid)
	if removed == nil {
		return RemovalResult{}, false
	}

	result := RemovalResult{Removed: removed.snapshot()}
	if promoted != nil {
		info := promoted.snapshot()
		result.Promoted = &info
		logging.Info(context.Background(), "Promoted new host",
			zap.String("roomId", roomID), zap.String("participantId", info.ID))
	}

	result.RoomDeleted = reg.dropRoomIfEmptyAdhocLocked(r)
	if !result.RoomDeleted {
		reg.trackOccupancyLocked(r)
	}

	logging.Info(context.Background(), "Participant left",
		zap.String("roomId", roomID),
		zap.String("participantId", pid),
		zap.Bool("roomDeleted", result.RoomDeleted))
	return result, true
}

// KickParticipant closes the target's connection, then removes them exactly
// like a voluntary leave. The kicked socket's own close handling finds the
// participant already gone, keeping the departure single-fire.
func (reg *Registry) KickParticipant(roomID, pid string) (RemovalResult, bool) {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return RemovalResult{}, false
	}
	p, ok := r.participants[pid]
	if !ok {
		return RemovalResult{}, false
	}

	if p.conn != nil && p.conn.IsOpen() {
		p.conn.Close()
	}

	removed, promoted := r.removeParticipantLocked(pid)
	result := RemovalResult{Removed: removed.snapshot()}
	if promoted != nil {
		info := promoted.snapshot()
		result.Promoted = &info
	}
	result.RoomDeleted = reg.dropRoomIfEmptyAdhocLocked(r)
	if !result.RoomDeleted {
		reg.trackOccupancyLocked(r)
	}

	logging.Info(context.Background(), "Participant kicked",
		zap.String("roomId", roomID), zap.String("participantId", pid))
	return result, true
}

// UpdateParticipant merges patch into the participant's mutable flags and
// returns the resulting state. Identity fields never change.
func (reg *Registry) UpdateParticipant(roomID, pid string, patch ParticipantPatch) (ParticipantInfo, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return ParticipantInfo{}, false
	}
	p, ok := r.participants[pid]
	if !ok {
		return ParticipantInfo{}, false
	}

	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.IsVideoOff != nil {
		p.IsVideoOff = *patch.IsVideoOff
	}
	if patch.IsHandRaised != nil {
		p.IsHandRaised = *patch.IsHandRaised
	}
	return p.snapshot(), true
}

// SetModerator grants the moderator bit. The host assignment is untouched;
// there is deliberately no revocation counterpart.
func (reg *Registry) SetModerator(roomID, pid string) (ParticipantInfo, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return ParticipantInfo{}, false
	}
	p, ok := r.participants[pid]
	if !ok {
		return ParticipantInfo{}, false
	}
	p.IsModerator = true
	return p.snapshot(), true
}

// AddToWaitingRoom parks wp pending moderator review. Full rooms refuse
// new candidates outright.
func (reg *Registry) AddToWaitingRoom(roomID string, wp *WaitingParticipant) error {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if r.isFullLocked() {
		return ErrRoomFull
	}

	wp.RoomID = roomID
	r.waiting[wp.ID] = wp
	metrics.WaitingParticipants.WithLabelValues(roomID).Set(float64(len(r.waiting)))

	logging.Info(context.Background(), "Candidate added to waiting room",
		zap.String("roomId", roomID), zap.String("participantId", wp.ID))
	return nil
}

// AdmitFromWaitingRoom atomically turns a waiting candidate into a live
// participant: no observer can see them in both places or in neither. When
// the room is full the candidate stays in the waiting room so the moderator
// can retry after someone leaves.
func (reg *Registry) AdmitFromWaitingRoom(roomID, pid string) (ParticipantInfo, error) {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return ParticipantInfo{}, ErrRoomNotFound
	}
	wp, ok := r.waiting[pid]
	if !ok {
		return ParticipantInfo{}, ErrParticipantNotFound
	}
	if r.isFullLocked() {
		return ParticipantInfo{}, ErrRoomFull
	}

	delete(r.waiting, pid)
	metrics.WaitingParticipants.WithLabelValues(roomID).Set(float64(len(r.waiting)))

	p := NewParticipant(wp.ID, wp.Name, roomID, wp.conn)
	r.addParticipantLocked(p, false)
	reg.trackOccupancyLocked(r)

	logging.Info(context.Background(), "Candidate admitted",
		zap.String("roomId", roomID), zap.String("participantId", pid))
	return p.snapshot(), nil
}

// RejectFromWaitingRoom removes and returns the waiting entry. Also used on
// socket close to revoke a pending candidacy.
func (reg *Registry) RejectFromWaitingRoom(roomID, pid string) (WaitingInfo, bool) {
	roomID = normalizeRoomID(roomID)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return WaitingInfo{}, false
	}
	wp, ok := r.waiting[pid]
	if !ok {
		return WaitingInfo{}, false
	}

	delete(r.waiting, pid)
	metrics.WaitingParticipants.WithLabelValues(roomID).Set(float64(len(r.waiting)))
	return wp.snapshot(), true
}

// LockRoom marks the room locked; later joiners go to the waiting room.
func (reg *Registry) LockRoom(roomID string) bool {
	return reg.setLocked(roomID, true)
}

// UnlockRoom clears the lock.
func (reg *Registry) UnlockRoom(roomID string) bool {
	return reg.setLocked(roomID, false)
}

// IsRoomLocked reports the lock state; unknown rooms are unlocked.
func (reg *Registry) IsRoomLocked(roomID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	return ok && r.locked
}

func (reg *Registry) setLocked(roomID string, locked bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return false
	}
	r.locked = locked
	return true
}

// Broadcast delivers one pre-serialized frame to every open participant
// socket in the room, skipping excludeID when non-empty.
func (reg *Registry) Broadcast(roomID string, data []byte, excludeID string) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return
	}
	for id, p := range r.participants {
		if id == excludeID {
			continue
		}
		if p.conn != nil && p.conn.IsOpen() {
			p.conn.Send(data)
		}
	}
}

// BroadcastToModerators delivers one frame to every open moderator socket,
// used for waiting-room review notifications.
func (reg *Registry) BroadcastToModerators(roomID string, data []byte) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return
	}
	for _, p := range r.moderatorsLocked() {
		if p.conn != nil && p.conn.IsOpen() {
			p.conn.Send(data)
		}
	}
}

// SendTo delivers one frame to a single participant, if present and open.
func (reg *Registry) SendTo(roomID, pid string, data []byte) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[normalizeRoomID(roomID)]
	if !ok {
		return false
	}
	p, ok := r.participants[pid]
	if !ok || p.conn == nil || !p.conn.IsOpen() {
		return false
	}
	p.conn.Send(data)
	return true
}

// PreCreateRoom registers an empty latent room, minting its id (when absent)
// and creator token, and persists the latent set.
func (reg *Registry) PreCreateRoom(req PreCreateRequest) (PreCreatedRoom, error) {
	reg.mu.Lock()

	if reg.countLatentLocked() >= reg.maxLatentRooms {
		reg.mu.Unlock()
		return PreCreatedRoom{}, ErrLatentLimit
	}

	roomID := normalizeRoomID(req.RoomID)
	if roomID == "" {
		for {
			roomID = generateRoomCode()
			if _, taken := reg.rooms[roomID]; !taken {
				break
			}
		}
	} else if _, taken := reg.rooms[roomID]; taken {
		reg.mu.Unlock()
		return PreCreatedRoom{}, ErrRoomExists
	}

	token := mintCreatorToken()
	r := newRoom(roomID, RoomConfig{
		Password:        req.Password,
		MaxParticipants: req.MaxParticipants,
		CreatorToken:    token,
		PreCreated:      true,
	}, reg.defaultMaxParticipants)
	reg.rooms[roomID] = r
	metrics.ActiveRooms.Inc()

	entries := reg.latentEntriesLocked()
	reg.mu.Unlock()

	reg.saveLatent(entries)

	logging.Info(context.Background(), "Pre-created latent room",
		zap.String("roomId", roomID),
		zap.String("creatorToken", logging.RedactSecret(token)))
	return PreCreatedRoom{RoomID: roomID, CreatorToken: token}, nil
}

// SeedLatentRooms restores pre-created rooms loaded from disk at startup.
// Entries colliding with existing rooms are skipped. Returns the number of
// rooms restored.
func (reg *Registry) SeedLatentRooms(entries []LatentRoom) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	seeded := 0
	for _, e := range entries {
		roomID := normalizeRoomID(e.RoomID)
		if roomID == "" {
			continue
		}
		if _, taken := reg.rooms[roomID]; taken {
			continue
		}
		r := newRoom(roomID, RoomConfig{
			Password:        e.Password,
			MaxParticipants: e.MaxParticipants,
			CreatorToken:    e.CreatorToken,
			PreCreated:      true,
		}, reg.defaultMaxParticipants)
		if e.CreatedAt > 0 {
			r.createdAt = time.UnixMilli(e.CreatedAt)
		}
		reg.rooms[roomID] = r
		metrics.ActiveRooms.Inc()
		seeded++
	}
	return seeded
}

// CleanupAbandonedRooms deletes every empty room older than its age cap:
// latentRoomMaxAge for pre-created rooms, maxAge for the rest. The latent
// store is rewritten when a pre-created room was evicted. Returns the number
// of rooms removed.
func (reg *Registry) CleanupAbandonedRooms(maxAge time.Duration) int {
	now := time.Now()

	reg.mu.Lock()

	evicted := set.New[string]()
	latentChanged := false
	for id, r := range reg.rooms {
		if !r.isEmptyLocked() {
			continue
		}
		cutoff := maxAge
		if r.preCreated {
			cutoff = reg.latentRoomMaxAge
		}
		if now.Sub(r.createdAt) <= cutoff {
			continue
		}
		delete(reg.rooms, id)
		evicted.Insert(id)
		if r.preCreated {
			latentChanged = true
		}
	}

	var entries []LatentRoom
	if latentChanged {
		entries = reg.latentEntriesLocked()
	}
	reg.mu.Unlock()

	ids := evicted.UnsortedList()
	sort.Strings(ids)
	for _, id := range ids {
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(id)
		metrics.WaitingParticipants.DeleteLabelValues(id)
	}

	if latentChanged {
		reg.saveLatent(entries)
	}

	if len(ids) > 0 {
		logging.Info(context.Background(), "Cleaned up abandoned rooms",
			zap.Int("count", len(ids)), zap.Strings("roomIds", ids))
	}
	return len(ids)
}

// GetStats returns the aggregate counters for the health endpoint.
func (reg *Registry) GetStats() Stats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	total := 0
	for _, r := range reg.rooms {
		total += len(r.participants)
	}
	return Stats{
		TotalRooms:        len(reg.rooms),
		TotalParticipants: total,
		PeakParticipants:  reg.peakParticipants,
	}
}

// trackOccupancyLocked refreshes the per-room gauge and the server-wide
// participant peak after membership changed.
func (reg *Registry) trackOccupancyLocked(r *Room) {
	metrics.RoomParticipants.WithLabelValues(r.ID).Set(float64(len(r.participants)))

	total := 0
	for _, room := range reg.rooms {
		total += len(room.participants)
	}
	if total > reg.peakParticipants {
		reg.peakParticipants = total
		metrics.PeakParticipants.Set(float64(total))
	}
}

// dropRoomIfEmptyAdhocLocked enforces the no-ghost-rooms rule. Pre-created
// rooms survive emptying until the janitor ages them out.
func (reg *Registry) dropRoomIfEmptyAdhocLocked(r *Room) bool {
	if !r.isEmptyLocked() || r.preCreated {
		return false
	}
	delete(reg.rooms, r.ID)
	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(r.ID)
	metrics.WaitingParticipants.DeleteLabelValues(r.ID)
	logging.Info(context.Background(), "Deleted empty room", zap.String("roomId", r.ID))
	return true
}

func (reg *Registry) countLatentLocked() int {
	n := 0
	for _, r := range reg.rooms {
		if r.isLatentLocked() {
			n++
		}
	}
	return n
}

// latentEntriesLocked snapshots every pre-created room in persistable form,
// oldest first for stable file contents.
func (reg *Registry) latentEntriesLocked() []LatentRoom {
	entries := make([]LatentRoom, 0, reg.maxLatentRooms)
	for _, r := range reg.rooms {
		if !r.preCreated {
			continue
		}
		entries = append(entries, LatentRoom{
			RoomID:          r.ID,
			Password:        r.password,
			CreatorToken:    r.creatorToken,
			CreatedAt:       r.createdAt.UnixMilli(),
			MaxParticipants: r.maxParticipants,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].RoomID < entries[j].RoomID
	})
	return entries
}

// saveLatent writes the latent snapshot outside the registry lock. Failures
// are logged; in-memory state remains authoritative for the session.
func (reg *Registry) saveLatent(entries []LatentRoom) {
	if reg.store == nil {
		return
	}
	if err := reg.store.Save(entries); err != nil {
		logging.Error(context.Background(), "Failed to persist latent rooms",
			zap.Int("entries", len(entries)), zap.Error(err))
	}
}
