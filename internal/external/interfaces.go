package external

import (
	"eventbell/internal/types"
)

// SignatureVerifier validates inbound webhook payloads.
type SignatureVerifier interface {
	// Verify returns nil if signature is valid for payload under secret.
	Verify(payload []byte, signature string, secret types.SecretString) error
}

var (
	_ SignatureVerifier = ChannelVerifier{}
	_ SignatureVerifier = (*StubVerifier)(nil)
	_ types.Messenger   = (*StubMessenger)(nil)
)
