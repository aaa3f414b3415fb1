package pubsub

import (
	"errors"

	"github.com/rabbitmq/amqp091-go"
)

// IntakeTopology describes the inbound alert queue. Messages rejected
// without requeue are dead-lettered to DeadExchange/DeadQueue for
// inspection.
type IntakeTopology struct {
	Exchange    string
	Queue       string
	RoutingKeys []string

	DeadExchange string
	DeadQueue    string
}

func (t *IntakeTopology) withDefaults() IntakeTopology {
	out := *t
	out.DeadExchange = FirstNonEmpty(t.DeadExchange, t.Queue+".dead")
	out.DeadQueue = FirstNonEmpty(t.DeadQueue, t.Queue+".dead")
	return out
}

type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// SetupIntakeTopology declares the intake exchange and queue plus the
// dead-letter pair behind it.
func SetupIntakeTopology(ch declarer, topo *IntakeTopology) error {
	if topo == nil || topo.Exchange == "" || topo.Queue == "" {
		return errors.New("intake topology needs exchange and queue")
	}
	t := topo.withDefaults()

	if err := ch.ExchangeDeclare(t.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(t.DeadExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	dq, err := ch.QueueDeclare(t.DeadQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dq.Name, "", t.DeadExchange, false, nil); err != nil {
		return err
	}

	args := amqp091.Table{"x-dead-letter-exchange": t.DeadExchange}
	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		return err
	}
	keys := t.RoutingKeys
	if len(keys) == 0 {
		keys = []string{"#"}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}
