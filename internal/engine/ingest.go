package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"depotwatch-backend/internal/geo"
	"depotwatch-backend/internal/metrics"
	"depotwatch-backend/internal/models"
)

// Device clocks sometimes report milliseconds; anything past year 5138 in seconds is treated as ms
const millisecondThreshold = 100_000_000_000

// SubmitPing validates and persists one ping, then evaluates stagnation, geofence
// containment and shift state for its driver. Nothing is persisted when validation fails.
func (e *Engine) SubmitPing(ctx context.Context, in models.PingInput) (*models.LocationPing, error) {
	ping, err := e.validatePing(in)
	if err != nil {
		metrics.PingsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	return e.processPing(ctx, ping)
}

// SubmitPingBatch is best-effort: every item gets its own result and one failure never
// blocks the rest. Each driver's pings are evaluated in timestamp order; different
// drivers run concurrently. On cancellation the remaining items fail and pings already
// persisted stay persisted.
func (e *Engine) SubmitPingBatch(ctx context.Context, inputs []models.PingInput) ([]models.PingResult, error) {
	if len(inputs) > e.cfg.BatchMaxItems {
		return nil, fmt.Errorf("%w: %d items, limit is %d", ErrBatchTooLarge, len(inputs), e.cfg.BatchMaxItems)
	}

	type batchItem struct {
		index int
		ping  *models.LocationPing
	}

	results := make([]models.PingResult, len(inputs))
	groups := make(map[string][]batchItem)
	var order []string

	for i, in := range inputs {
		results[i].Index = i
		ping, err := e.validatePing(in)
		if err != nil {
			metrics.PingsRejected.WithLabelValues("validation").Inc()
			results[i].Error = err.Error()
			continue
		}
		key := driverLockKey(ping.CompanyID, ping.DriverID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], batchItem{index: i, ping: ping})
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)

	for _, key := range order {
		items := groups[key]
		sort.SliceStable(items, func(a, b int) bool {
			return items[a].ping.Timestamp < items[b].ping.Timestamp
		})

		g.Go(func() error {
			for _, item := range items {
				if err := ctx.Err(); err != nil {
					results[item.index].Error = fmt.Sprintf("batch cancelled: %v", err)
					continue
				}
				persisted, err := e.processPing(ctx, item.ping)
				if err != nil {
					results[item.index].Error = err.Error()
					continue
				}
				results[item.index].Success = true
				results[item.index].Ping = persisted
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (e *Engine) processPing(ctx context.Context, ping *models.LocationPing) (*models.LocationPing, error) {
	start := time.Now()
	defer func() {
		metrics.PingEvalDuration.Observe(time.Since(start).Seconds())
	}()

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	unlock, err := e.lockDriver(opCtx, ping.CompanyID, ping.DriverID)
	if err != nil {
		metrics.PingsRejected.WithLabelValues("lock").Inc()
		return nil, err
	}
	defer unlock()

	ping.ReceivedAt = e.now().Unix()
	if err := e.store.InsertPing(opCtx, ping); err != nil {
		metrics.PingsRejected.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("failed to persist ping: %w", err)
	}
	metrics.PingsIngested.Inc()

	th, err := e.thresholdsFor(opCtx, ping.CompanyID)
	if err != nil {
		return nil, err
	}

	var (
		state       *models.ContainmentState
		transitions []Transition
	)
	g, gctx := errgroup.WithContext(opCtx)
	g.Go(func() error {
		return e.evaluateStagnation(gctx, ping, th)
	})
	g.Go(func() error {
		var err error
		state, transitions, err = e.matchGeofences(gctx, ping, th)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logEvalFailure(ping, err)
		return nil, err
	}

	if err := e.commitContainment(opCtx, ping, state, transitions); err != nil {
		e.logEvalFailure(ping, err)
		return nil, err
	}

	return ping, nil
}

func (e *Engine) logEvalFailure(ping *models.LocationPing, err error) {
	e.logger.Error("❌ Ping evaluation failed",
		zap.String("company_id", ping.CompanyID),
		zap.String("driver_id", ping.DriverID),
		zap.Int64("ping_id", ping.ID),
		zap.Error(err))
}

func (e *Engine) validatePing(in models.PingInput) (*models.LocationPing, error) {
	if in.CompanyID == "" {
		return nil, invalid("company_id", "is required")
	}
	if in.DriverID == "" {
		return nil, invalid("driver_id", "is required")
	}
	if in.Latitude == nil {
		return nil, invalid("latitude", "is required")
	}
	if in.Longitude == nil {
		return nil, invalid("longitude", "is required")
	}
	point, err := e.validatePoint(*in.Latitude, *in.Longitude)
	if err != nil {
		return nil, err
	}
	if in.Speed == nil {
		return nil, invalid("speed", "is required")
	}
	if *in.Speed < 0 {
		return nil, invalid("speed", "must not be negative, got %d", *in.Speed)
	}
	if in.Heading != nil && (*in.Heading < 0 || *in.Heading > 359) {
		return nil, invalid("heading", "must be between 0 and 359, got %d", *in.Heading)
	}
	if in.Accuracy != nil && (math.IsNaN(*in.Accuracy) || math.IsInf(*in.Accuracy, 0) || *in.Accuracy < 0) {
		return nil, invalid("accuracy", "must be a non-negative number of meters")
	}

	ts, err := e.normalizeTimestamp(in.Timestamp)
	if err != nil {
		return nil, err
	}

	return &models.LocationPing{
		CompanyID: in.CompanyID,
		DriverID:  in.DriverID,
		Latitude:  point.Latitude,
		Longitude: point.Longitude,
		Speed:     *in.Speed,
		Heading:   in.Heading,
		Accuracy:  in.Accuracy,
		Timestamp: ts,
	}, nil
}

// validatePoint converts geometry errors into a ValidationError at the ingest boundary
func (e *Engine) validatePoint(lat, lon float64) (geo.Point, error) {
	point := geo.Point{Latitude: lat, Longitude: lon}
	if err := point.Validate(); err != nil {
		return point, &ValidationError{Field: "coordinates", Message: err.Error(), Err: err}
	}
	return point, nil
}

func (e *Engine) normalizeTimestamp(ts int64) (int64, error) {
	if ts <= 0 {
		return 0, invalid("timestamp", "is required")
	}
	if ts > millisecondThreshold {
		ts /= 1000
	}

	now := e.now()
	earliest := now.Add(-e.cfg.MaxPastWindow).Unix()
	latest := now.Add(e.cfg.MaxFutureSkew).Unix()
	if ts > latest {
		return 0, invalid("timestamp", "is %ds in the future, max skew is %s", ts-now.Unix(), e.cfg.MaxFutureSkew)
	}
	if ts < earliest {
		return 0, invalid("timestamp", "is older than %s", e.cfg.MaxPastWindow)
	}
	return ts, nil
}
