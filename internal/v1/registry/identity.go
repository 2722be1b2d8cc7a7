package registry

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	roomCodeLength = 6
	// Room codes skip 0/O and 1/I so they survive being read aloud.
	roomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// generateRoomCode creates a random 6-character room code.
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeChars))))
		code[i] = roomCodeChars[n.Int64()]
	}
	return string(code)
}

// mintCreatorToken returns an unguessable bearer credential for a
// pre-created room.
func mintCreatorToken() string {
	return uuid.NewString()
}
