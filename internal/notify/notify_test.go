package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendPostsTextMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
	}))
	defer srv.Close()

	New(srv.URL).Send(context.Background(), "Daily report published", "Published 2 reports.")

	if got["msg_type"] != "text" {
		t.Errorf("expected text message type, got %v", got["msg_type"])
	}
	content, ok := got["content"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected content payload: %v", got["content"])
	}
	text, _ := content["text"].(string)
	if !strings.Contains(text, "Daily report published") || !strings.Contains(text, "2 reports") {
		t.Errorf("unexpected message text: %q", text)
	}
}

func TestSendWithoutURLIsNoOp(t *testing.T) {
	// Must not panic or block.
	New("").Send(context.Background(), "title", "body")
}

func TestSendSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Failure is logged, never surfaced.
	New(srv.URL).Send(context.Background(), "title", "body")
}
