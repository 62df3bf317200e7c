package dim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/dim-aggregator/internal/model"
	"github.com/fairyhunter13/dim-aggregator/internal/obs"
	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

var tracer = otel.Tracer("dim-aggregator")

// Handler consumes change notifications and routes them to the aggregator
// registered for their dimension type.
type Handler struct {
	Store    store.Store
	Registry *Registry
	Locks    *KeyLock
	Logger   *slog.Logger
}

// NewHandler builds a Handler with lockStripes per-id lock stripes.
func NewHandler(st store.Store, reg *Registry, lockStripes int) *Handler {
	return &Handler{
		Store:    st,
		Registry: reg,
		Locks:    NewKeyLock(lockStripes),
		Logger:   obs.Logger,
	}
}

// Handle processes one notification payload. Notifications for unregistered
// dimension types are dropped without touching the store. Any decode, id or
// store error is returned to the caller unchanged in kind.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	n, err := model.ParseNotification(payload)
	if err != nil {
		obs.AggregationFailures.WithLabelValues("").Inc()
		return err
	}
	agg, ok := h.Registry.Lookup(n.DimType)
	if !ok {
		obs.NotificationsDropped.Inc()
		h.logger().Debug("notification_dropped", "dim_type", n.DimType)
		return nil
	}
	obs.NotificationsReceived.WithLabelValues(n.DimType).Inc()

	id, err := n.EntityID()
	if err != nil {
		obs.AggregationFailures.WithLabelValues(n.DimType).Inc()
		return fmt.Errorf("%s notification: %w", n.DimType, err)
	}
	return h.apply(ctx, n.DimType, agg, id)
}

func (h *Handler) apply(ctx context.Context, dimType string, agg Aggregator, id int64) error {
	ctx, span := tracer.Start(ctx, "dim.Aggregate", trace.WithAttributes(
		attribute.String("dim_type", dimType),
		attribute.Int64("id", id),
	))
	defer span.End()

	if h.Locks != nil {
		unlock := h.Locks.Lock(store.RawKey(dimType, id))
		defer unlock()
	}

	start := time.Now()
	res, err := agg.Aggregate(ctx, h.Store, id)
	obs.AggregationDuration.WithLabelValues(dimType).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.AggregationFailures.WithLabelValues(dimType).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	switch res {
	case Written:
		obs.AggregatesWritten.WithLabelValues(dimType).Inc()
	case Deleted:
		obs.AggregatesDeleted.WithLabelValues(dimType).Inc()
	}
	span.SetAttributes(attribute.String("result", res.String()))
	h.logger().Debug("dim_"+res.String(), "dim_type", dimType, "id", id)
	return nil
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return obs.Logger
}
