package pubsub

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type declared struct {
	kind string
	name string
	args amqp091.Table
}

type fakeDeclarer struct {
	calls    []declared
	bindings [][3]string
	failOn   string
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	if name == f.failOn {
		return errors.New("access refused")
	}
	f.calls = append(f.calls, declared{kind: "exchange:" + kind, name: name})
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	f.calls = append(f.calls, declared{kind: "queue", name: name, args: args})
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp091.Table) error {
	f.bindings = append(f.bindings, [3]string{name, key, exchange})
	return nil
}

func TestSetupIntakeTopology(t *testing.T) {
	f := &fakeDeclarer{}
	topo := &IntakeTopology{Exchange: "notifications.intake", Queue: "intake.q", RoutingKeys: []string{"notifications.inbound.v1"}}
	if err := SetupIntakeTopology(f, topo); err != nil {
		t.Fatal(err)
	}

	want := []declared{
		{kind: "exchange:topic", name: "notifications.intake"},
		{kind: "exchange:fanout", name: "intake.q.dead"},
		{kind: "queue", name: "intake.q.dead"},
		{kind: "queue", name: "intake.q", args: amqp091.Table{"x-dead-letter-exchange": "intake.q.dead"}},
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("declarations = %+v\nwant %+v", f.calls, want)
	}
	wantBindings := [][3]string{
		{"intake.q.dead", "", "intake.q.dead"},
		{"intake.q", "notifications.inbound.v1", "notifications.intake"},
	}
	if !reflect.DeepEqual(f.bindings, wantBindings) {
		t.Fatalf("bindings = %v", f.bindings)
	}
}

func TestSetupIntakeTopologyErrors(t *testing.T) {
	if err := SetupIntakeTopology(&fakeDeclarer{}, &IntakeTopology{Queue: "q"}); err == nil {
		t.Fatal("missing exchange accepted")
	}
	f := &fakeDeclarer{failOn: "x"}
	if err := SetupIntakeTopology(f, &IntakeTopology{Exchange: "x", Queue: "q"}); err == nil {
		t.Fatal("declare failure swallowed")
	}
}

func TestDialWithRetry(t *testing.T) {
	var dials int
	_, err := DialWithRetry(context.Background(), ConnectionOptions{
		URL:           "amqp://localhost",
		RetryAttempts: 3,
		Delay:         time.Millisecond,
		Dial: func(string) (*amqp091.Connection, error) {
			dials++
			return nil, errors.New("connection refused")
		},
	})
	if err == nil || dials != 3 || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("dials = %d, err = %v", dials, err)
	}
}

func TestDialWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := DialWithRetry(ctx, ConnectionOptions{
		RetryAttempts: 5,
		Delay:         time.Hour,
		Dial: func(string) (*amqp091.Connection, error) {
			cancel()
			return nil, errors.New("connection refused")
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFallbackDialer(t *testing.T) {
	sess, err := NewFallback(nil).Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Publish(context.Background(), "x", "k", []byte("{}"), Properties{}); !errors.Is(err, ErrNoBroker) {
		t.Fatalf("publish err = %v, want ErrNoBroker", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAMQPDialerRequiresURL(t *testing.T) {
	if _, err := (&AMQPDialer{}).Dial(context.Background()); err == nil {
		t.Fatal("dial without url succeeded")
	}
	boom := errors.New("boom")
	d := &AMQPDialer{URL: "amqp://x", Connect: func(string, amqp091.Config) (*amqp091.Connection, error) {
		return nil, boom
	}}
	if _, err := d.Dial(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
