package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{Subject: "bot.inbound"}
	c := (*natsHeaderCarrier)(msg)

	if c.Get("traceparent") != "" {
		t.Error("empty carrier should return empty value")
	}
	if c.Keys() != nil {
		t.Error("empty carrier should have no keys")
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Errorf("Keys = %v", keys)
	}
}

// Round-trip against a live server, run only when NATS_URL is set.
func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	type inbound struct {
		SenderID string `json:"sender_id"`
		Text     string `json:"text"`
	}

	got := make(chan inbound, 1)
	sub, err := Subscribe(nc, "bot.inbound.test", func(_ context.Context, in inbound) {
		got <- in
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	want := inbound{SenderID: "111", Text: "busco tubos puri"}
	if err := Publish(context.Background(), nc, "bot.inbound.test", want); err != nil {
		t.Fatal(err)
	}

	select {
	case in := <-got:
		if in != want {
			t.Errorf("got %+v, want %+v", in, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
