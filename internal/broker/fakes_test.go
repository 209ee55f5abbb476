package broker

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	name      string
	durable   bool
	exclusive bool
	args      amqp.Table
}

type binding struct {
	queue, key, exchange string
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel records every call made through amqpChannel.
type fakeChannel struct {
	mu sync.Mutex

	exchanges []string
	queues    []declaredQueue
	bindings  []binding
	published []published
	qos       int

	passive    map[string]int
	passiveErr map[string]error
	gets       []amqp.Delivery

	deliveries chan amqp.Delivery
	notify     chan *amqp.Error

	declareErr error
	publishErr error
	closed     bool
	closeCalls int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		passive:    make(map[string]int),
		passiveErr: make(map[string]error),
		deliveries: make(chan amqp.Delivery, 8),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, exclusive, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if name == "" {
		name = "amq.gen-test"
	}
	f.queues = append(f.queues, declaredQueue{name: name, durable: durable, exclusive: exclusive, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueDeclarePassive(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.passiveErr[name]; ok {
		return amqp.Queue{}, err
	}
	return amqp.Queue{Name: name, Messages: f.passive[name]}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Get(string, bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.gets) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.gets[0]
	f.gets = f.gets[1:]
	return d, true, nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.notify = c
	return c
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCalls++
	return nil
}

func (f *fakeChannel) queueNamed(name string) (declaredQueue, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found declaredQueue
	n := 0
	for _, q := range f.queues {
		if q.name == name {
			found = q
			n++
		}
	}
	return found, n
}

type fakeConnection struct {
	mu     sync.Mutex
	notify chan *amqp.Error
	closed bool
}

func (c *fakeConnection) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.notify = ch
	return ch
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeAcknowledger implements amqp.Acknowledger.
type fakeAcknowledger struct {
	mu   sync.Mutex
	acks []uint64
	err  error
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(uint64, bool, bool) error { return nil }
func (a *fakeAcknowledger) Reject(uint64, bool) error     { return nil }
