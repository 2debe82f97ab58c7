package identity

import (
	"strings"

	"github.com/google/uuid"
)

func newDeviceID() string {
	return uuid.NewString()
}

// ValidDeviceID reports whether id is a well-formed random (v4) UUID.
func ValidDeviceID(id string) bool {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return false
	}
	return parsed.Version() == 4
}
