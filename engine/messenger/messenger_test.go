package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyWebhook(t *testing.T) {
	tests := []struct {
		name        string
		mode, token string
		challenge   string
		verifyToken string
		want        int
		wantErr     bool
	}{
		{"valid", "subscribe", "secreto", "1158201444", "secreto", 1158201444, false},
		{"wrong mode", "unsubscribe", "secreto", "42", "secreto", 0, true},
		{"wrong token", "subscribe", "otro", "42", "secreto", 0, true},
		{"empty configured token", "subscribe", "", "42", "", 0, true},
		{"non-integer challenge", "subscribe", "secreto", "abc", "secreto", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyWebhook(tt.mode, tt.token, tt.challenge, tt.verifyToken)
			if tt.wantErr {
				if !errors.Is(err, ErrVerification) {
					t.Fatalf("expected ErrVerification, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("challenge = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParsePayload(t *testing.T) {
	body := []byte(`{
		"object": "page",
		"entry": [
			{"messaging": [
				{"sender": {"id": "111"}, "message": {"text": "busco tubos puri"}},
				{"sender": {"id": "222"}, "delivery": {"watermark": 123}},
				{"sender": {"id": "333"}, "message": {"attachments": [{"type": "image"}]}}
			]},
			{"messaging": [
				{"sender": {"id": "444"}, "message": {"text": "precio de la cortadora"}}
			]}
		]
	}`)

	msgs, err := ParsePayload(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 text messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].SenderID != "111" || msgs[0].Text != "busco tubos puri" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].SenderID != "444" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
}

func TestParsePayload_Invalid(t *testing.T) {
	if _, err := ParsePayload([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	msgs, err := ParsePayload([]byte(`{"object":"page","entry":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %+v", msgs)
	}
}

func TestClient_Send(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "tok123" {
			t.Errorf("missing access token, got query %s", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123", nil)
	if err := c.Send(context.Background(), "111", "hola"); err != nil {
		t.Fatal(err)
	}
	if got.Recipient.ID != "111" || got.Message.Text != "hola" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestClient_SendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid OAuth"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", nil)
	if err := c.Send(context.Background(), "111", "hola"); err == nil {
		t.Fatal("expected error on non-200")
	}

	unconfigured := NewClient(srv.URL, "", nil)
	if err := unconfigured.Send(context.Background(), "111", "hola"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
