package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

// transientPublishErrors are connection states the client recovers from on its own.
var transientPublishErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
	nats.ErrReconnectBufExceeded,
}

func isTransientPublishError(err error) bool {
	for _, target := range transientPublishErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRejectedEvent(err error) bool {
	return errors.Is(err, nats.ErrMaxPayload) || errors.Is(err, nats.ErrBadSubject)
}

// classifyPublishError retries connection failures. A rejected event is the
// publisher's fault and does not count against the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		isRejectedEvent(err):
		return resilience.ErrorClassification{}
	case isTransientPublishError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// publishError gives a failed publish its domain kind. An open breaker
// already arrives from the executor as domain.ErrTemporary.
func publishError(err error) error {
	switch {
	case err == nil || domain.IsKind(err, domain.ErrTemporary):
		return err
	case isRejectedEvent(err):
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", err)
	case isTransientPublishError(err):
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
