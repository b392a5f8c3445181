package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextOrderKey ctxKey = "orderID"

func OrderIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if orderID, ok := ctx.Value(ContextOrderKey).(string); ok {
		return orderID
	}
	return ""
}

func ContextWithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, ContextOrderKey, orderID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
