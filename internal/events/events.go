// Package events fans committed trades out to subscribers: websocket
// clients through a Hub and downstream consumers through Kafka.
package events

import (
	"context"
	"errors"

	"papertrade/internal/domain"
)

// Publisher receives committed trade events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TradeEvent) error
}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev domain.TradeEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
