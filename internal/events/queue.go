package events

import "context"

// Message is a single queue delivery.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the transport used to fan events out to downstream consumers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
