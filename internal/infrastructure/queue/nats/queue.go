package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

const workerQueueGroup = "workers"

// Bridge carries pipeline events between the API process and worker processes.
type Bridge struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, prefix string) (*Bridge, error) {
	return NewWithOptions(url, prefix, Options{})
}

func NewWithOptions(url, prefix string, options Options) (*Bridge, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("memex-neural"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bridge{
		conn:     conn,
		prefix:   normalizePrefix(prefix),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (b *Bridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish sends evt as a JSON envelope on <prefix>.<kind>.
func (b *Bridge) Publish(ctx context.Context, evt domain.Event) error {
	data, subject, err := encodeEnvelope(b.prefix, evt)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(err)
}

// Subscribe joins the worker queue group and hands every valid event to handler until ctx is done.
func (b *Bridge) Subscribe(ctx context.Context, handler func(context.Context, domain.Event) error) error {
	sub, err := b.conn.QueueSubscribe(b.prefix+".>", workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		evt, err := decodeEnvelope(msg.Data)
		if err != nil {
			b.logger.Error("drop malformed event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, evt); err != nil {
			b.logger.Error("event dispatch failed", "event", string(evt.Kind), "document_id", evt.DocumentID(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "memex.events"
	}
	return prefix
}

func encodeEnvelope(prefix string, evt domain.Event) ([]byte, string, error) {
	if !evt.Kind.Valid() {
		return nil, "", fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, evt.Kind)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, "", fmt.Errorf("marshal event: %w", err)
	}
	return data, prefix + "." + string(evt.Kind), nil
}

func decodeEnvelope(data []byte) (domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return domain.Event{}, fmt.Errorf("%w: decode event: %w", domain.ErrInvalidInput, err)
	}
	if !evt.Kind.Valid() {
		return domain.Event{}, fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, evt.Kind)
	}
	if evt.Payload == nil {
		evt.Payload = map[string]string{}
	}
	return evt, nil
}
