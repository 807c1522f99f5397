package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns an identifier used to correlate every log line and report
// of one batch or watch run.
func NewRunID() string {
	return uuid.New().String()
}

// ShortID trims an identifier to its first block, handy for log prefixes.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
