package domain

import "github.com/google/uuid"

// NewID generates an opaque identity shared across Memory, VectorRecord,
// and Node for a single logical memory (spec §3: "same id as Memory").
func NewID() string {
	return uuid.NewString()
}
