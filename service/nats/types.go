package nats

import (
	"time"

	"github.com/maseox/promptr/service/db"
)

// PaymentEvent represents a payment verification outcome published to NATS.
// Events are published to the subject "payments.{sender_wallet}" in JetStream.
type PaymentEvent struct {
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	TokenMint string `json:"token_mint"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`

	VerifiedAt  time.Time `json:"verified_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromPayment converts a stored payment record to a PaymentEvent for publishing.
func FromPayment(p *db.Payment) *PaymentEvent {
	return &PaymentEvent{
		Signature:   p.Signature,
		Sender:      p.Sender,
		Receiver:    p.Receiver,
		TokenMint:   p.TokenMint,
		Amount:      p.Amount,
		Status:      p.Status,
		VerifiedAt:  p.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
}
