package session

import (
	"context"
	"testing"
	"time"
)

func TestDecode_RoundTripsEncodedEvent(t *testing.T) {
	in := Event{Kind: KindLogin, ActorID: "u-1", Role: "admin", At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != in.Kind || out.ActorID != in.ActorID || out.Role != in.Role || !out.At.Equal(in.At) {
		t.Fatalf("unexpected event %+v", out)
	}
}

func TestDecode_RejectsMalformedPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":     "login:u-1",
		"unknown kind": `{"kind":"refresh","actor_id":"u-1"}`,
		"no actor":     `{"kind":"logout"}`,
	} {
		if _, err := Decode(payload); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLocalBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewLocalBus()
	var got []string
	bus.Subscribe(func(ev Event) { got = append(got, "a:"+ev.ActorID) })
	bus.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	if err := bus.Publish(context.Background(), Event{Kind: KindLogout, ActorID: "u-9"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 2 || got[0] != "a:u-9" || got[1] != "b:logout" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}
