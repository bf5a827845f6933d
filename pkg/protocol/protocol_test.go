package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeFrameOmitsNilData(t *testing.T) {
	payload, err := EncodeFrame(EventSetup, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `{"event":"setup"}` {
		t.Fatalf("unexpected frame: %s", payload)
	}
}

func TestMessageRecordFieldNames(t *testing.T) {
	rec := MessageRecord{
		ID:         "m1",
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hi",
		CreatedAt:  time.UnixMilli(1000).UTC(),
		Timestamp:  1000,
	}
	payload, err := EncodeFrame(EventReceiveMessage, rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event != EventReceiveMessage {
		t.Fatalf("unexpected event %s", frame.Event)
	}

	// the browser client reads these exact keys
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame.Data, &fields); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	for _, key := range []string{"id", "senderId", "receiverId", "content", "createdAt", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %s in %s", key, frame.Data)
		}
	}
}
