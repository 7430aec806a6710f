package analytics

import (
	"context"
	"sync"
	"time"
)

// MockAnalytics is an in-memory Service implementation for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	events []mockEvent

	// RecordErr, when set, is returned from the Record methods.
	RecordErr error
	// CountErr, when set, is returned from the Count methods.
	CountErr error
}

type mockEvent struct {
	eventType  string
	campaignID int
	at         time.Time
}

// NewMockAnalytics returns an empty in-memory analytics service.
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// AddEvents seeds n events of the given type at the given time.
func (m *MockAnalytics) AddEvents(eventType string, campaignID, n int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.events = append(m.events, mockEvent{eventType: eventType, campaignID: campaignID, at: at})
	}
}

func (m *MockAnalytics) record(eventType string, campaignID int) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockEvent{eventType: eventType, campaignID: campaignID, at: time.Now()})
	return nil
}

func (m *MockAnalytics) RecordImpression(ctx context.Context, campaignID int, placement, ownerType string) error {
	return m.record(EventTypeImpression, campaignID)
}

func (m *MockAnalytics) RecordClick(ctx context.Context, campaignID int, placement, ownerType string) error {
	return m.record(EventTypeClick, campaignID)
}

func (m *MockAnalytics) count(eventType string, campaignID int, since time.Time) (int64, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.eventType == eventType && e.campaignID == campaignID && !e.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockAnalytics) CountImpressions(ctx context.Context, campaignID int, since time.Time) (int64, error) {
	return m.count(EventTypeImpression, campaignID, since)
}

func (m *MockAnalytics) CountClicks(ctx context.Context, campaignID int, since time.Time) (int64, error) {
	return m.count(EventTypeClick, campaignID, since)
}
