package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// QueueGroup is shared by every worker process so each job message is
// delivered to exactly one of them.
const QueueGroup = "workers"

// jobIDHeader lets a JetStream-backed subject deduplicate republished jobs.
const jobIDHeader = nats.MsgIdHdr

var natsTransient = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.Settled(err); ok {
		return class
	}
	for _, target := range natsTransient {
		if errors.Is(err, target) {
			return resilience.Transient
		}
	}
	return resilience.Permanent
}

func wrapTemporaryIfNeeded(err error) error {
	return resilience.Surface("nats publish", err, classifyNATSError, domain.ErrTemporary, nil)
}

type Options struct {
	ClientName     string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// FailFast makes the first connect fail instead of retrying in the background.
	FailFast           bool
	DrainTimeout       time.Duration
	ResilienceExecutor *resilience.Executor
}

func (o Options) connectOptions() []nats.Option {
	name := o.ClientName
	if name == "" {
		name = "idp-pipeline"
	}
	return []nats.Option{
		nats.Name(name),
		nats.Timeout(orDefault(o.ConnectTimeout, 2*time.Second)),
		nats.ReconnectWait(orDefault(o.ReconnectWait, 2*time.Second)),
		nats.MaxReconnects(maxReconnects(o.MaxReconnects)),
		nats.RetryOnFailedConnect(!o.FailFast),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func maxReconnects(n int) int {
	if n <= 0 {
		return 60
	}
	return n
}

// Queue publishes job messages and fans them out to the worker queue group.
type Queue struct {
	conn         *nats.Conn
	subject      string
	drainTimeout time.Duration
	executor     *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	conn, err := nats.Connect(url, options.connectOptions()...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:         conn,
		subject:      subject,
		drainTimeout: orDefault(options.DrainTimeout, 5*time.Second),
		executor:     options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishJob sends msg on the job subject. Connection-level failures come
// back as domain.ErrTemporary.
func (q *Queue) PublishJob(ctx context.Context, msg domain.JobMessage) error {
	out, err := EncodeJobMessage(q.subject, msg)
	if err != nil {
		return err
	}

	publish := func(context.Context) error {
		if err := q.conn.PublishMsg(out); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.JobID, err)
		}
		return nil
	}
	if q.executor == nil {
		return wrapTemporaryIfNeeded(publish(ctx))
	}
	return wrapTemporaryIfNeeded(q.executor.Execute(ctx, "nats.publish", publish, classifyNATSError))
}

// SubscribeJobs blocks until ctx is done, then drains the subscription so
// in-flight callbacks finish. Undecodable messages are logged and dropped.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, domain.JobMessage) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, QueueGroup, func(m *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		msg, err := DecodeJobMessage(m.Data)
		if err != nil {
			slog.Error("job_message_invalid", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("job_handler_error", "job_id", msg.JobID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", q.subject, err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("job_subscription_started", "subject", q.subject, "queue_group", QueueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(q.drainTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func EncodeJobMessage(subject string, msg domain.JobMessage) (*nats.Msg, error) {
	if msg.JobID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "encode job message", errors.New("missing job_id"))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode job message: %w", err)
	}
	out := nats.NewMsg(subject)
	out.Data = data
	out.Header.Set(jobIDHeader, msg.JobID)
	return out, nil
}

func DecodeJobMessage(data []byte) (domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.JobMessage{}, fmt.Errorf("decode job message: %w", err)
	}
	if msg.JobID == "" {
		return domain.JobMessage{}, errors.New("decode job message: missing job_id")
	}
	return msg, nil
}
