package session

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ai-voice-transcript-service/internal/models"
)

// Generator produces session IDs of the form {role}_{random8hex}_{epochMillis}
// along with a process-wide creation sequence.
type Generator struct {
	counter uint64
}

// NewGenerator returns a Generator starting at sequence 1.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns a new session ID and its sequence number.
func (g *Generator) Next(role models.Role, now time.Time) (string, uint64) {
	n := atomic.AddUint64(&g.counter, 1)
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d", role, hex, now.UnixMilli()), n
}
