package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	pkgkafka "QuantSim/pkg/kafka"
)

// EventAuditHandler copies trade events from Kafka into durable storage.
// An event is committed only after the store accepted it.
type EventAuditHandler struct {
	topic   string
	store   domrepo.EventSink
	metrics domrepo.Metrics
}

func NewEventAuditHandler(topic string, store domrepo.EventSink, metrics domrepo.Metrics) *EventAuditHandler {
	return &EventAuditHandler{topic: topic, store: store, metrics: metrics}
}

func (h *EventAuditHandler) Topic() string { return h.topic }

func (h *EventAuditHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.TradeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("audit_unmarshal")
		return err
	}
	if ev.RunID == "" || ev.Kind == "" {
		h.metrics.RecordError(string(errs.KindDataQuality))
		return errs.DataQuality("audit event", errMissingRun)
	}

	start := time.Now()
	err := h.store.WriteEvents(ctx, []models.TradeEvent{ev})
	h.metrics.RecordLatency("audit_store", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError(string(errs.KindPersistence))
		return errs.Persistence("audit store", err)
	}
	h.metrics.RecordEventsFlushed(h.store.Name(), 1)
	return nil
}

var errMissingRun = errors.New("event without run_id or kind")

var _ pkgkafka.MessageHandler = (*EventAuditHandler)(nil)
