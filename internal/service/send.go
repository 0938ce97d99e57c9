package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

const defaultSendTimeout = 10 * time.Second

// sendOnce makes one bounded transport call and classifies it. A rejected
// ack and a transport error are both failures; the detail is the provider's
// description or the error text.
func sendOnce(ctx context.Context, tr transport.Transport, timeout time.Duration, userID int64, text string) (model.DeliveryStatus, string) {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ack, err := tr.Send(sendCtx, userID, text)
	switch {
	case err == nil && ack.OK:
		return model.DeliverySuccess, ""
	case err == nil:
		if ack.Description == "" {
			return model.DeliveryFailed, "message rejected by provider"
		}
		return model.DeliveryFailed, ack.Description
	case errors.Is(err, context.DeadlineExceeded):
		return model.DeliveryFailed, fmt.Sprintf("send timed out after %s", timeout)
	default:
		return model.DeliveryFailed, err.Error()
	}
}
