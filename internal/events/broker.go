package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

// minRedialInterval throttles reconnect attempts while the broker is down.
const minRedialInterval = 2 * time.Second

// ErrBrokerUnavailable is returned by Handle while the sink cannot reach the broker.
var ErrBrokerUnavailable = errors.New("rabbitmq connection unavailable")

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession is one dialed connection with its channel. closed fires when
// the server or the network drops either of them.
type amqpSession struct {
	conn    io.Closer
	channel amqpPublisher
	closed  <-chan *amqp.Error
}

type dialFunc func(url, queue string) (*amqpSession, error)

// AMQPSink forwards domain events to a durable RabbitMQ queue for downstream
// consumers (bots, analytics). A dropped connection is re-dialed on the next
// publish.
type AMQPSink struct {
	mu         sync.Mutex
	url        string
	queue      string
	dial       dialFunc
	session    *amqpSession
	lastDialAt time.Time
	now        func() time.Time
	logger     *zap.Logger
}

// NewAMQPSink dials the broker and declares the queue. It returns nil when no
// URL is configured.
func NewAMQPSink(cfg config.BrokerConfig, logger *zap.Logger) (*AMQPSink, error) {
	if cfg.URL == "" {
		logger.Info("RABBITMQ_URL not set; broker publishing disabled")
		return nil, nil
	}
	return newAMQPSink(cfg, dialAMQP, logger)
}

func newAMQPSink(cfg config.BrokerConfig, dial dialFunc, logger *zap.Logger) (*AMQPSink, error) {
	s := &AMQPSink{url: cfg.URL, queue: cfg.Queue, dial: dial, now: time.Now, logger: logger}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return nil, err
	}
	logger.Info("rabbitmq connection established", zap.String("queue", cfg.Queue))
	return s, nil
}

func dialAMQP(url, queue string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	closed := make(chan *amqp.Error, 2)
	conn.NotifyClose(closed)
	ch.NotifyClose(closed)
	return &amqpSession{conn: conn, channel: ch, closed: closed}, nil
}

func (s *AMQPSink) connectLocked() error {
	s.lastDialAt = s.now()
	session, err := s.dial(s.url, s.queue)
	if err != nil {
		return err
	}
	s.session = session
	return nil
}

// sessionLocked returns a live session, re-dialing when the previous one was
// closed. Attempts are throttled so a down broker costs one dial per interval.
func (s *AMQPSink) sessionLocked() (*amqpSession, error) {
	if s.session != nil {
		select {
		case reason := <-s.session.closed:
			s.logger.Warn("rabbitmq connection lost", zap.Any("reason", reason))
			s.dropLocked()
		default:
			return s.session, nil
		}
	}
	if s.now().Sub(s.lastDialAt) < minRedialInterval {
		return nil, ErrBrokerUnavailable
	}
	if err := s.connectLocked(); err != nil {
		return nil, errors.Join(ErrBrokerUnavailable, err)
	}
	s.logger.Info("rabbitmq connection re-established", zap.String("queue", s.queue))
	return s.session, nil
}

func (s *AMQPSink) dropLocked() {
	if s.session == nil {
		return
	}
	if s.session.channel != nil {
		_ = s.session.channel.Close()
	}
	if s.session.conn != nil {
		_ = s.session.conn.Close()
	}
	s.session = nil
}

// Handle is an EventHandler publishing event as JSON.
func (s *AMQPSink) Handle(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.sessionLocked()
	if err != nil {
		return err
	}
	err = session.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if errors.Is(err, amqp.ErrClosed) {
		s.dropLocked()
	}
	return err
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}
