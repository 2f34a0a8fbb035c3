package cli

import "github.com/google/uuid"

// NewRunToken returns a time-ordered token correlating the log lines and
// output of one CLI invocation. UUIDv7, so tokens sort by creation time.
func NewRunToken() string {
	return uuid.Must(uuid.NewV7()).String()
}
