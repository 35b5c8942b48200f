package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type recordingChannel struct {
	mu   sync.Mutex
	msgs []amqp.Publishing
	keys []string
}

func (r *recordingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, exchange+"/"+key)
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestRunSinkPublishesNumberedEvents(t *testing.T) {
	ch := &recordingChannel{}
	p := &Publisher{pub: ch, log: zerolog.Nop()}
	runID := uuid.New()
	sink := p.ForRun(runID)

	for _, name := range []string{"a", "b"} {
		r := domain.Recipient{DisplayName: name, PhoneNumber: "+39" + name}
		if err := sink.Write(context.Background(), domain.NewSuccess(r, "id-"+name, time.Now()), r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if len(ch.msgs) != 2 || ch.keys[0] != "sms/sms.attempt" {
		t.Fatalf("unexpected publishes %v", ch.keys)
	}
	var ev ports.AttemptEvent
	if err := json.Unmarshal(ch.msgs[1].Body, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.RunID != runID || ev.Seq != 1 || ev.DisplayName != "b" || !ev.Success || ev.MessageID != "id-b" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ch.msgs[1].MessageId != runID.String()+"/1" || ch.msgs[1].DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %+v", ch.msgs[1])
	}
}

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

func TestConsumeLoopAcksAndNacks(t *testing.T) {
	ack := &fakeAck{}
	good, _ := json.Marshal(ports.AttemptEvent{RunID: uuid.New(), Seq: 0})
	bad, _ := json.Marshal(ports.AttemptEvent{RunID: uuid.New(), Seq: 99})

	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: good}
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")}
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: bad}
	close(deliveries)

	var handled []int
	err := consumeLoop(context.Background(), deliveries, func(ctx context.Context, ev ports.AttemptEvent) error {
		handled = append(handled, ev.Seq)
		if ev.Seq == 99 {
			return errors.New("db down")
		}
		return nil
	}, zerolog.Nop())

	if err == nil {
		t.Fatalf("expected closed-channel error")
	}
	if len(handled) != 2 || ack.acks != 1 || ack.nacks != 2 {
		t.Fatalf("unexpected outcome handled=%v acks=%d nacks=%d", handled, ack.acks, ack.nacks)
	}
	if ack.requeue[0] || !ack.requeue[1] {
		t.Fatalf("malformed must be dropped and handler errors requeued, got %v", ack.requeue)
	}
}

func TestConsumeLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := consumeLoop(ctx, make(chan amqp.Delivery), func(context.Context, ports.AttemptEvent) error { return nil }, zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
