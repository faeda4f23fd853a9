package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/agent"
	"github.com/fyrsmithlabs/govcore/internal/drift"
)

// RecommendationSink accepts recommendations for agent mailboxes.
type RecommendationSink interface {
	PostRecommendation(ctx context.Context, rec agent.Recommendation) error
}

// ObservationSink accepts drift observations.
type ObservationSink interface {
	Observe(ctx context.Context, correct bool) drift.State
}

// Observation is the payload of govcore.observe.
type Observation struct {
	Correct bool `json:"correct"`
}

// Ack is the reply sent when the inbound message carried a reply subject.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Subscriber routes inbound NATS traffic into the governance core.
type Subscriber struct {
	bus    *Bus
	tracer trace.Tracer
	subs   []*nats.Subscription
}

// NewSubscriber creates a subscriber on bus.
func NewSubscriber(bus *Bus) *Subscriber {
	return &Subscriber{bus: bus, tracer: otel.Tracer(instrumentationName)}
}

// Recommendations subscribes to <prefix>.recommend.<agent>. The agent named
// by the subject wins over the payload.
func (s *Subscriber) Recommendations(ctx context.Context, sink RecommendationSink) error {
	subject := s.bus.Subject("recommend.*")
	sub, err := s.bus.nc.Subscribe(subject, func(msg *nats.Msg) {
		mctx, span := s.tracer.Start(extract(ctx, msg), "events.recommend")
		defer span.End()
		s.ack(msg, s.handleRecommendation(mctx, sink, msg))
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) handleRecommendation(ctx context.Context, sink RecommendationSink, msg *nats.Msg) error {
	name := msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]
	id, err := agent.ParseID(name)
	if err != nil {
		return err
	}
	var rec agent.Recommendation
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		return fmt.Errorf("decoding recommendation: %w", err)
	}
	rec.Agent = id
	if err := rec.Validate(); err != nil {
		return err
	}
	return sink.PostRecommendation(ctx, rec)
}

// Observations subscribes to <prefix>.observe.
func (s *Subscriber) Observations(ctx context.Context, sink ObservationSink) error {
	subject := s.bus.Subject("observe")
	sub, err := s.bus.nc.Subscribe(subject, func(msg *nats.Msg) {
		var o Observation
		if err := json.Unmarshal(msg.Data, &o); err != nil {
			s.ack(msg, fmt.Errorf("decoding observation: %w", err))
			return
		}
		sink.Observe(extract(ctx, msg), o.Correct)
		s.ack(msg, nil)
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SnapshotCache keeps the latest metrics published on <prefix>.snapshot.
type SnapshotCache struct {
	mu     sync.Mutex
	latest map[string]float64
}

// Latest returns a copy of the newest snapshot, or nil before the first
// one arrives. It matches governance.SnapshotSource.
func (c *SnapshotCache) Latest(context.Context) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	out := make(map[string]float64, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}

// Snapshots subscribes to <prefix>.snapshot. Each message replaces the
// cached snapshot whole.
func (s *Subscriber) Snapshots() (*SnapshotCache, error) {
	cache := &SnapshotCache{}
	subject := s.bus.Subject("snapshot")
	sub, err := s.bus.nc.Subscribe(subject, func(msg *nats.Msg) {
		var m map[string]float64
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			s.ack(msg, fmt.Errorf("decoding snapshot: %w", err))
			return
		}
		cache.mu.Lock()
		cache.latest = m
		cache.mu.Unlock()
		s.ack(msg, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return cache, nil
}

func (s *Subscriber) ack(msg *nats.Msg, err error) {
	if err != nil {
		s.bus.logger.Warn("inbound message rejected", zap.String("subject", msg.Subject), zap.Error(err))
	}
	if msg.Reply == "" {
		return
	}
	a := Ack{OK: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	data, _ := json.Marshal(a)
	if rerr := msg.Respond(data); rerr != nil {
		s.bus.logger.Debug("ack not delivered", zap.String("subject", msg.Subject), zap.Error(rerr))
	}
}

// Close drains every subscription.
func (s *Subscriber) Close() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}
