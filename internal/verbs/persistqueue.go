package verbs

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dereksmith/semem/internal/jsonx"
	"github.com/dereksmith/semem/internal/semerr"
)

// NatsPersistQueue durably queues failed SemanticStore.Save attempts on a
// JetStream subject, grounded on the teacher's ingestion stream
// (internal/kernel/kernel.go's "TRANSCRIPTS" JetStream stream and
// internal/kernel/ingestion.go's consumer loop) — the same durable-retry
// shape, repurposed from transcript ingestion to persistence retry.
type NatsPersistQueue struct {
	js      nats.JetStreamContext
	subject string
	logger  *zap.Logger
}

// NewNatsPersistQueue creates a queue publishing onto subject. The caller
// is responsible for having declared a stream whose subject list covers
// it (mirroring the teacher's AddStream call in Kernel.Start).
func NewNatsPersistQueue(js nats.JetStreamContext, subject string, logger *zap.Logger) *NatsPersistQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NatsPersistQueue{js: js, subject: subject, logger: logger.Named("persistqueue")}
}

// Enqueue publishes job's interaction as JSON onto the configured
// JetStream subject.
func (q *NatsPersistQueue) Enqueue(ctx context.Context, job PersistJob) error {
	payload, err := jsonx.Marshal(job.Interaction)
	if err != nil {
		return semerr.New(semerr.KindValidation, "marshaling persist job", err)
	}
	if _, err := q.js.Publish(q.subject, payload, nats.Context(ctx)); err != nil {
		return semerr.New(semerr.KindTransientNetwork, "publishing persist retry job", err)
	}
	return nil
}
