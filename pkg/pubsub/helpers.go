package pubsub

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

func FirstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// SafeClose closes ch, tolerating nil and panics from an already torn down
// connection.
func SafeClose(ch *amqp.Channel) (err error) {
	if ch == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = nil
		}
	}()
	return ch.Close()
}
