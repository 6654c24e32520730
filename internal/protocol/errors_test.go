package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	for _, code := range []string{
		"", ErrProtoBadRequest, ErrRunBusy, ErrRunNotFound, ErrRunDone, ErrBadRequest, ErrInternal,
	} {
		if !IsKnownCode(code) {
			t.Fatalf("expected known code: %q", code)
		}
	}
	if IsKnownCode("E_NOPE") {
		t.Fatalf("unexpected known code")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"PROGRESS","protocol_version":"1.0"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != TypeProgress || m.ProtocolVersion != Version {
		t.Fatalf("unexpected base message: %+v", m)
	}
}
