package wire

import (
	"strings"
	"testing"
)

func TestDecodeSessionInit(t *testing.T) {
	raw := []byte(`{"type":"session_init","session_id":"abc","context":{"page":"/vagas"}}`)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if frame.Type != TypeSessionInit {
		t.Fatalf("expected %s, got %s", TypeSessionInit, frame.Type)
	}
	if frame.SessionInit == nil || frame.SessionInit.SessionID != "abc" {
		t.Fatalf("payload not decoded: %+v", frame.SessionInit)
	}
	if frame.SessionInit.Context["page"] != "/vagas" {
		t.Fatalf("context not decoded: %+v", frame.SessionInit.Context)
	}
}

func TestDecodeMessage(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"message","content":"olá"}`))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if frame.Message == nil || frame.Message.Content != "olá" {
		t.Fatalf("payload not decoded: %+v", frame.Message)
	}
}

func TestDecodeTolerantOfClientTimestamp(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"message","content":"oi","timestamp":1736964000}`)); err != nil {
		t.Fatalf("timestamp should be tolerated: %v", err)
	}
}

func TestDecodeSatisfactionRating(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"satisfaction_rating","rating":5,"feedback":"ótimo"}`))
	if err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if frame.Satisfaction == nil || frame.Satisfaction.Rating != 5 || frame.Satisfaction.Feedback != "ótimo" {
		t.Fatalf("payload not decoded: %+v", frame.Satisfaction)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"shutdown"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown frame type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"content":"oi"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"message","content":"oi","exploit":"x"}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
