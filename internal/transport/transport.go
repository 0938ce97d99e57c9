// Package transport delivers broadcast text to a single chat.
package transport

import "context"

// Ack is the provider's answer to a send. OK=false carries the provider's
// description of the rejection.
type Ack struct {
	OK          bool
	Description string
}

// Transport sends text to one user. An error means the call itself could not
// be completed (network, auth, timeout); a rejected message is an Ack.
type Transport interface {
	Send(ctx context.Context, userID int64, text string) (Ack, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, userID int64, text string) (Ack, error)

func (f Func) Send(ctx context.Context, userID int64, text string) (Ack, error) {
	return f(ctx, userID, text)
}
