package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"eventbell/internal/types"
)

// SignatureHeader carries the webhook signature on inbound chat events.
const SignatureHeader = "X-Signature"

// ErrInvalidSignature is returned when a webhook body does not match its
// signature.
var ErrInvalidSignature = types.NewAppError(types.ErrCodeValidationSignature, "webhook signature mismatch", nil)

// ChannelVerifier checks inbound webhook signatures. The platform signs the
// raw body with HMAC-SHA256 keyed by the channel secret and sends the
// base64-encoded digest.
type ChannelVerifier struct{}

// Verify returns nil when signature matches payload under secret.
func (ChannelVerifier) Verify(payload []byte, signature string, secret types.SecretString) error {
	if secret.IsEmpty() {
		return types.NewAppError(types.ErrCodeValidationSignature, "channel secret not configured", nil)
	}
	if signature == "" {
		return types.NewAppError(types.ErrCodeValidationSignature, "missing webhook signature", nil)
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationSignature, "malformed webhook signature", err)
	}
	if !hmac.Equal(got, Sign(payload, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret types.SecretString) []byte {
	mac := hmac.New(sha256.New, []byte(secret.Unmask()))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignBase64 returns the header value for payload.
func SignBase64(payload []byte, secret types.SecretString) string {
	return base64.StdEncoding.EncodeToString(Sign(payload, secret))
}

// IsSignatureError reports whether err came from signature verification.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || types.HasCode(err, types.ErrCodeValidationSignature)
}
