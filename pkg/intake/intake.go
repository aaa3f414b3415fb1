// Package intake turns inbound alert messages from the broker into recorded
// notifications.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/raycon-dispatch/pkg/engine"
	"github.com/roboricindustries/raycon-dispatch/pkg/pubsub"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/common"
)

// Receiver records a notification.
type Receiver interface {
	Receive(ctx context.Context, caller alerts.Caller, payload map[string]any, origin string) (engine.Outcome, error)
}

// Handler returns the delivery handler for the inbound routing key.
// Undecodable and invalid alerts are poison; anything else is retried by
// the broker.
func Handler(recv Receiver, log *slog.Logger) pubsub.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(ctx context.Context, d amqp091.Delivery) error {
		var msg common.InboundAlert
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("%w: decode inbound alert: %v", pubsub.ErrPoison, err)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("%w: %v", pubsub.ErrPoison, err)
		}
		if len(msg.TraceContext) > 0 {
			ctx = common.WithTraceContext(ctx, msg.TraceContext)
		}

		caller := alerts.Caller{UserID: msg.UserID, OrganizationID: msg.OrganizationID}
		out, err := recv.Receive(ctx, caller, msg.Payload, msg.Origin)
		if err != nil {
			var ve *alerts.ValidationError
			if errors.As(err, &ve) {
				log.Warn("inbound alert rejected",
					slog.String("organization_id", msg.OrganizationID),
					slog.String("origin", msg.Origin),
					slog.Any("issues", ve.Issues),
				)
				return fmt.Errorf("%w: %v", pubsub.ErrPoison, err)
			}
			return err
		}
		log.Debug("inbound alert recorded",
			slog.String("notification_id", out.Notification.ID),
			slog.String("message_id", d.MessageId),
		)
		return nil
	}
}
