package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

var connectionIDGenerator func() string

func init() {
	gen, err := nanoid.Standard(21)
	if err != nil {
		panic(fmt.Sprintf("nanoid generator: %v", err))
	}
	connectionIDGenerator = gen
}

// NewConnectionID returns a short URL-safe id for a live socket.
func NewConnectionID() string {
	return "conn_" + connectionIDGenerator()
}

// NewMessageID returns a random UUID for a persisted message.
func NewMessageID() string {
	return uuid.NewString()
}

func NewGroupID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
