package auth

import "testing"

func TestHandleReplace(t *testing.T) {
	t.Parallel()
	h := NewHandle(Credentials{})

	if h.HasCredentials() {
		t.Fatal("fresh handle should have no credentials")
	}

	h.Replace(Credentials{APIKey: "k", APISecret: "s"})

	if !h.HasCredentials() {
		t.Fatal("expected credentials after Replace")
	}
	got := h.Load()
	if got.APIKey != "k" || got.APISecret != "s" {
		t.Errorf("Load() = %+v, want {k s}", got)
	}
}

func TestCredentialsClear(t *testing.T) {
	t.Parallel()
	c := Credentials{APIKey: "k", APISecret: "s"}
	c.Clear()
	if !c.IsZero() {
		t.Error("expected zero credentials after Clear")
	}
}
