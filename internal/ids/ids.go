// Package ids generates the identifiers used across hostauth: snowflake row
// ids, UUID external identity ids, and KSUID session ids.
package ids

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Generator issues row ids from a single snowflake node. It is safe for
// concurrent use.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for the given node (0..1023).
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("ids: snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// NextID returns a new time-ordered row id.
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}

// NewExternalID returns a random UUID used as the public identity handle.
func NewExternalID() string {
	return uuid.NewString()
}

// ValidExternalID reports whether s parses as a UUID.
func ValidExternalID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewSessionID returns a KSUID for a session token.
func NewSessionID() string {
	return ksuid.New().String()
}

// ValidSessionID reports whether s parses as a KSUID.
func ValidSessionID(s string) bool {
	_, err := ksuid.Parse(s)
	return err == nil
}
