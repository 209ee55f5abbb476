// Package broker adapts RabbitMQ (github.com/rabbitmq/amqp091-go) to the
// retry package: session liveness, topology declaration, TTL holding queues,
// dead-letter publishing, consumption with prefetch 1 and passive depth
// queries.
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"redelivery/internal/retry"
	"redelivery/internal/types"
)

// amqpChannel is the subset of *amqp.Channel used by this package.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpConnection is the subset of *amqp.Connection used by Session.
type amqpConnection interface {
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Session is one connection with one working channel. Its State is what the
// retry Guard consults before every publish and acknowledge.
type Session struct {
	conn        amqpConnection
	ch          amqpChannel
	openChannel func() (amqpChannel, error)

	closing atomic.Bool
	closed  atomic.Bool
	once    sync.Once

	logger types.Logger
}

// Dial connects to url and opens the working channel.
func Dial(url string, timeout time.Duration, logger types.Logger) (*Session, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:       amqp.DefaultDial(timeout),
		Properties: amqp.Table{"connection_name": "redelivery"},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerDialFailed, "failed to connect to broker", err)
	}

	open := func() (amqpChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	ch, err := open()
	if err != nil {
		_ = conn.Close()
		return nil, types.NewAppError(types.ErrCodeBrokerDialFailed, "failed to open channel", err)
	}

	return newSession(conn, ch, open, logger), nil
}

func newSession(conn amqpConnection, ch amqpChannel, open func() (amqpChannel, error), logger types.Logger) *Session {
	if logger == nil {
		logger = types.NopLogger{}
	}
	s := &Session{conn: conn, ch: ch, openChannel: open, logger: logger}

	go s.watch("connection", conn.NotifyClose(make(chan *amqp.Error, 1)))
	go s.watch("channel", ch.NotifyClose(make(chan *amqp.Error, 1)))
	return s
}

// watch marks the session closed when the broker closes the connection or
// the channel.
func (s *Session) watch(what string, notify <-chan *amqp.Error) {
	err, ok := <-notify
	if ok && err != nil {
		s.logger.Error("broker closed "+what,
			"code", err.Code,
			"reason", err.Reason,
			"server", err.Server,
		)
	}
	s.closed.Store(true)
}

// State implements retry.Session.
func (s *Session) State() retry.SessionState {
	switch {
	case s.closed.Load():
		return retry.SessionClosed
	case s.closing.Load():
		return retry.SessionClosing
	case s.ch.IsClosed() || s.conn.IsClosed():
		return retry.SessionClosed
	default:
		return retry.SessionOpen
	}
}

// Channel returns the working channel.
func (s *Session) Channel() amqpChannel { return s.ch }

// OpenChannel opens an extra channel on the same connection. The caller
// closes it.
func (s *Session) OpenChannel() (amqpChannel, error) {
	if s.State() != retry.SessionOpen {
		return nil, types.NewAppError(types.ErrCodeBrokerChannelClosed, "session is not open", nil)
	}
	return s.openChannel()
}

// Close shuts the channel and the connection. The session reports Closing
// while the close is in progress.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		if cerr := s.ch.Close(); cerr != nil && cerr != amqp.ErrClosed {
			err = fmt.Errorf("closing channel: %w", cerr)
		}
		if cerr := s.conn.Close(); cerr != nil && cerr != amqp.ErrClosed && err == nil {
			err = fmt.Errorf("closing connection: %w", cerr)
		}
		s.closed.Store(true)
	})
	return err
}

var _ retry.Session = (*Session)(nil)
