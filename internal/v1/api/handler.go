// Package api serves the REST surface next to the signaling socket: server
// stats, the ICE configuration handed to clients, and room pre-creation.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"

	"github.com/huddlehq/huddle/internal/v1/config"
	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/registry"

	"go.uber.org/zap"
)

// Handler carries the dependencies of the REST endpoints.
type Handler struct {
	registry  *registry.Registry
	cfg       *config.Config
	version   string
	startedAt time.Time
}

func NewHandler(reg *registry.Registry, cfg *config.Config, version string) *Handler {
	return &Handler{
		registry:  reg,
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Stats handles GET /health. It reports aggregate room occupancy rather
// than dependency health; the probe endpoints cover the latter.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.registry.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"totalRooms":        stats.TotalRooms,
		"totalParticipants": stats.TotalParticipants,
		"peakParticipants":  stats.PeakParticipants,
		"uptime":            int64(time.Since(h.startedAt).Seconds()),
		"version":           h.version,
	})
}

// ICEConfig handles GET /config. Clients fetch this before dialing the
// socket so their peer connections know which STUN and TURN servers to use.
func (h *Handler) ICEConfig(c *gin.Context) {
	servers := []webrtc.ICEServer{
		{URLs: []string{h.cfg.StunServerURL}},
	}
	if h.cfg.TurnServerURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{h.cfg.TurnServerURL},
			Username:   h.cfg.TurnServerUsername,
			Credential: h.cfg.TurnServerCredential,
		})
	}

	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}

type createRoomRequest struct {
	RoomID          string `json:"roomId"`
	Password        string `json:"password"`
	MaxParticipants int    `json:"maxParticipants"`
}

// CreateRoom handles POST /api/rooms. The body is optional; an empty one
// mints a random room code with the default settings. The response carries
// the creator token that later authenticates the host join.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.MaxParticipants != 0 && (req.MaxParticipants < 2 || req.MaxParticipants > 64) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxParticipants must be between 2 and 64"})
		return
	}

	created, err := h.registry.PreCreateRoom(registry.PreCreateRequest{
		RoomID:          req.RoomID,
		Password:        req.Password,
		MaxParticipants: req.MaxParticipants,
	})
	switch {
	case errors.Is(err, registry.ErrLatentLimit):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many unused rooms, try again later"})
	case errors.Is(err, registry.ErrRoomExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
	case err != nil:
		logging.Error(c.Request.Context(), "Room pre-creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"roomId":       created.RoomID,
			"creatorToken": created.CreatorToken,
		})
	}
}
