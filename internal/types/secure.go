package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

// SecretString holds channel tokens and secrets. It redacts itself in fmt
// output, JSON and slog attributes; call Unmask where the raw value is needed
// (the Authorization header, the webhook HMAC key).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string { return redactedPlaceholder }

// GoString keeps %#v from printing the raw value.
func (s SecretString) GoString() string { return redactedPlaceholder }

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redactedPlaceholder) }

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string { return string(s) }

// IsEmpty reports whether no secret is set.
func (s SecretString) IsEmpty() bool { return s == "" }
