package relay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	roomCodeLength = 6
	roomTTL        = 24 * time.Hour
	// Ambiguous characters are left out of shareable codes.
	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RoomMetadata describes a room independently of its live occupancy.
type RoomMetadata struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatorID string    `json:"creatorId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	MaxPeers  int       `json:"maxPeers"`
	Private   bool      `json:"private"`
}

// Store mirrors room metadata and occupancy into redis so operators can
// inspect the relay's state out of band. The hub's in-memory state stays
// authoritative; every store operation is best effort and a nil client
// disables the mirror entirely.
type Store struct {
	client *redis.Client
	log    *slog.Logger
}

// NewStore wraps a redis client; client may be nil.
func NewStore(client *redis.Client, log *slog.Logger) *Store {
	return &Store{client: client, log: log}
}

func (s *Store) SaveRoom(meta RoomMetadata) {
	if s.client == nil {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(meta)
	if err != nil {
		s.log.Warn("room metadata marshal failed", "room", meta.ID, "error", err)
		return
	}
	if err := s.client.Set(ctx, "room:"+meta.ID, data, roomTTL).Err(); err != nil {
		s.log.Warn("room mirror write failed", "room", meta.ID, "error", err)
	}
	if err := s.client.Set(ctx, "code:"+meta.Code, meta.ID, roomTTL).Err(); err != nil {
		s.log.Warn("room code mirror write failed", "room", meta.ID, "error", err)
	}
}

func (s *Store) DeleteRoom(meta RoomMetadata) {
	if s.client == nil {
		return
	}
	ctx := context.Background()
	s.client.Del(ctx, "room:"+meta.ID, "code:"+meta.Code, "room:"+meta.ID+":peers")
}

func (s *Store) AddPeer(roomID, peerID string) {
	if s.client == nil {
		return
	}
	ctx := context.Background()
	if err := s.client.SAdd(ctx, "room:"+roomID+":peers", peerID).Err(); err != nil {
		s.log.Warn("peer mirror write failed", "room", roomID, "peer", peerID, "error", err)
		return
	}
	s.client.Expire(ctx, "room:"+roomID+":peers", roomTTL)
}

func (s *Store) RemovePeer(roomID, peerID string) {
	if s.client == nil {
		return
	}
	s.client.SRem(context.Background(), "room:"+roomID+":peers", peerID)
}

// generateRoomCode builds a short shareable room code.
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

type createRoomRequest struct {
	MaxPeers int  `json:"maxPeers"`
	Private  bool `json:"private"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type roomStatusResponse struct {
	RoomMetadata
	PeerCount     int    `json:"peerCount"`
	RendererState string `json:"rendererState"`
}

// CreateRoom provisions a room without a renderer; the next registering
// renderer claims it. Requires authentication.
func (h *Hub) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxPeers <= 0 {
		req.MaxPeers = h.maxPeers
	}

	meta := RoomMetadata{
		ID:        uuid.New().String(),
		Code:      generateRoomCode(),
		CreatorID: userID.(string),
		CreatedAt: time.Now(),
		MaxPeers:  req.MaxPeers,
		Private:   req.Private,
	}
	h.provisionRoom(meta)
	h.store.SaveRoom(meta)

	h.log.Info("room provisioned", "room", meta.ID, "code", meta.Code, "operator", userID)
	c.JSON(http.StatusCreated, createRoomResponse{RoomID: meta.ID, Code: meta.Code})
}

// GetRoom reports a room's metadata and live occupancy, looked up by id or
// shareable code. Public.
func (h *Hub) GetRoom(c *gin.Context) {
	room, ok := h.roomStatus(c.Param("roomId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom tears a room down, disconnecting its occupants. Only the
// provisioning operator may delete a room.
func (h *Hub) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	switch h.deleteRoom(c.Param("roomId"), userID.(string)) {
	case deleteRoomOK:
		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	case deleteRoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case deleteRoomForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
	}
}
