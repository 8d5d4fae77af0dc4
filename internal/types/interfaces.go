package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Messenger pushes a single text message to a chat user. Implementations
// retry internally; a returned error means every attempt failed.
type Messenger interface {
	Push(ctx context.Context, to string, body string, creds *TenantCredentials) error
}
