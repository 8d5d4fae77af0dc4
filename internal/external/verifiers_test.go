package external

import (
	"testing"

	"eventbell/internal/types"
)

func TestChannelVerifier(t *testing.T) {
	secret := types.SecretString("channel-secret")
	body := []byte(`{"events":[]}`)
	valid := SignBase64(body, secret)
	v := ChannelVerifier{}

	if err := v.Verify(body, valid, secret); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    types.SecretString
	}{
		{"tampered body", []byte(`{"events":[1]}`), valid, secret},
		{"wrong secret", body, valid, "other"},
		{"missing signature", body, "", secret},
		{"not base64", body, "%%%", secret},
		{"no secret", body, valid, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.signature, tt.secret)
			if err == nil || !IsSignatureError(err) {
				t.Errorf("err = %v, want signature error", err)
			}
		})
	}
}
