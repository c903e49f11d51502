package analytics

import (
	"context"
	"sync"

	"github.com/tphan267/pulse-relay/pkg/providers"
	"github.com/tphan267/pulse-relay/pkg/relay"
)

const defaultMaxEvents = 10000

// Service keeps recent analytics events in memory. It doubles as the relay
// observer, so stream lifecycle shows up next to logins.
type Service struct {
	events    []providers.Event
	maxEvents int
	totals    map[string]int64 // event type -> lifetime count
	drops     map[string]int64 // drop reason -> lifetime count
	mu        sync.RWMutex
}

// NewService creates a new analytics service
func NewService() *Service {
	return &Service{
		events:    make([]providers.Event, 0),
		maxEvents: defaultMaxEvents,
		totals:    make(map[string]int64),
		drops:     make(map[string]int64),
	}
}

// SetMaxEvents bounds the in-memory event log; older events are discarded
func (s *Service) SetMaxEvents(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxEvents = n
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "analytics"
}

// Initialize sets up the service
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	registry.Logger().Debug("Initializing analytics service")
	return nil
}

// IsRunnable returns false, events are recorded synchronously
func (s *Service) IsRunnable() bool {
	return false
}

// Start is not used for analytics service
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// RegisterAPIRoutes registers analytics-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// metrics are served by the api server through core.App
	return nil
}

// Track records an analytics event
func (s *Service) Track(ctx context.Context, event providers.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(event)
	return nil
}

func (s *Service) record(event providers.Event) {
	s.totals[event.Type]++
	s.events = append(s.events, event)
	if over := len(s.events) - s.maxEvents; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
}

// Observe implements relay.Observer. Routed envelopes are only counted.
func (s *Service) Observe(e relay.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Kind == relay.EventDropped {
		s.drops[e.Reason]++
	}
	if e.Kind == relay.EventRouted {
		s.totals[string(e.Kind)]++
		return
	}

	event := providers.Event{
		Type:      string(e.Kind),
		Timestamp: e.At,
		Data:      map[string]any{},
	}
	if e.UserID != 0 {
		event.UserID = e.UserID.String()
	}
	if e.StreamID != "" {
		event.Data["streamId"] = string(e.StreamID)
	}
	if e.Type != "" {
		event.Data["type"] = string(e.Type)
	}
	if e.Reason != "" {
		event.Data["reason"] = e.Reason
	}
	s.record(event)
}

// GetMetrics retrieves analytics metrics based on query
func (s *Service) GetMetrics(ctx context.Context, query providers.MetricsQuery) (*providers.MetricsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeFilter := make(map[string]bool)
	for _, t := range query.EventTypes {
		typeFilter[t] = true
	}

	count := int64(0)
	byType := make(map[string]int64)
	for _, event := range s.events {
		if len(typeFilter) > 0 && !typeFilter[event.Type] {
			continue
		}
		if !query.StartTime.IsZero() && event.Timestamp.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && event.Timestamp.After(query.EndTime) {
			continue
		}
		byType[event.Type]++
		count++
	}

	totals := make(map[string]int64, len(s.totals))
	for k, v := range s.totals {
		totals[k] = v
	}
	drops := make(map[string]int64, len(s.drops))
	for k, v := range s.drops {
		drops[k] = v
	}

	return &providers.MetricsResult{
		Data: map[string]any{
			"total_events":      count,
			"by_type":           byType,
			"lifetime_totals":   totals,
			"dropped_by_reason": drops,
		},
		Count: count,
	}, nil
}

// Verify that Service implements Service, AnalyticsProvider and relay.Observer
var _ providers.Service = (*Service)(nil)
var _ providers.AnalyticsProvider = (*Service)(nil)
var _ relay.Observer = (*Service)(nil)
