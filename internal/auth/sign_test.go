package auth

import "testing"

func TestSignRequestDeterministic(t *testing.T) {
	t.Parallel()
	secret := "c2VjcmV0LWJ5dGVz" // base64("secret-bytes")

	sig1, err := SignRequest(secret, "/0/private/GetWebSocketsToken", "12345", "nonce=12345")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	sig2, err := SignRequest(secret, "/0/private/GetWebSocketsToken", "12345", "nonce=12345")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if sig1 != sig2 {
		t.Errorf("SignRequest not deterministic: %q != %q", sig1, sig2)
	}
}

func TestSignRequestVariesWithInput(t *testing.T) {
	t.Parallel()
	secret := "c2VjcmV0LWJ5dGVz"

	base, err := SignRequest(secret, "/0/private/GetWebSocketsToken", "1", "nonce=1")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	other, err := SignRequest(secret, "/0/private/GetWebSocketsToken", "2", "nonce=2")
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if base == other {
		t.Error("signatures for different nonces must differ")
	}
}

func TestSignRequestRejectsInvalidSecret(t *testing.T) {
	t.Parallel()
	if _, err := SignRequest("not-valid-base64!!", "/path", "1", "nonce=1"); err == nil {
		t.Error("expected error for non-base64 secret")
	}
}
