package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "AIWeb3-Agents/internal/errors"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := xerrors.New(xerrors.CodeSubmissionFailed, "交易回执状态为失败", xerrors.WithMetadata("tx_hash", "0x01"))
	event := FromError(err, "req-1", "chain.send_transfer")

	d := NewFanout(&WebhookNotifier{URL: srv.URL}, LogNotifier{})
	if err := d.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Code != xerrors.CodeSubmissionFailed || got.RequestID != "req-1" || got.Metadata["tx_hash"] != "0x01" {
		t.Fatalf("unexpected event delivered: %+v", got)
	}
}

func TestWebhookNotifierReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeTimeout}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
