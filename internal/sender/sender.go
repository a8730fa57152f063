// Package sender defines the outbound provider contract. Real SMS/email/
// WhatsApp integrations live outside the engine and implement
// MessageSender; the engine only sees the synchronous accept/reject.
package sender

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// Message is one outbound send request.
type Message struct {
	Channel   model.Channel
	Recipient string
	Content   string
	Subject   string
	MediaRef  string
}

// MessageSender is the provider capability. Send returns the provider's
// synchronous accept/reject; final delivery status arrives later through
// the delivery callback endpoint.
type MessageSender interface {
	Send(ctx context.Context, msg Message) (providerMessageID string, accepted bool, err error)
}

// MockSender simulates a provider: it accepts with a configurable
// failure percentage and hands back a uuid as the provider message id.
type MockSender struct {
	FailPct int
}

func (s *MockSender) Send(ctx context.Context, msg Message) (string, bool, error) {
	if msg.Recipient == "" {
		return "", false, nil // hard reject, no retry will help
	}
	if s.FailPct > 0 && rand.Intn(100) < s.FailPct {
		return "", false, fmt.Errorf("mock provider: transient send failure")
	}
	return uuid.NewString(), true, nil
}

var _ MessageSender = (*MockSender)(nil)
