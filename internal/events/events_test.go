package events

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryPublisherKeepsOrder(t *testing.T) {
	m := NewMemory()
	for _, hash := range []string{"0x01", "0x02"} {
		if err := m.PublishTransfer(context.Background(), TransferConfirmed{TxHash: hash}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	got := m.Transfers()
	if len(got) != 2 || got[0].TxHash != "0x01" || got[1].TxHash != "0x02" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestEncodeUsesSnakeCase(t *testing.T) {
	body, err := encode(TransferConfirmed{RequestID: "r", TxHash: "0x01", Value: "500"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["tx_hash"] != "0x01" || decoded["value"] != "500" {
		t.Fatalf("unexpected payload: %s", body)
	}
}

func TestDriversRequireURL(t *testing.T) {
	if _, err := NewRabbitMQ(RabbitMQConfig{}); err == nil {
		t.Fatal("expected rabbitmq error for empty url")
	}
	if _, err := NewNATS(NATSConfig{}); err == nil {
		t.Fatal("expected nats error for empty url")
	}
}
