package analytics

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Row is one campaign record. Metric values are reported as stored in
// Notion; nil means the property was missing or empty.
type Row struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"`
	Campaign     string   `json:"campaign"`
	Device       string   `json:"device"`
	Sent         *float64 `json:"sent"`
	Delivered    *float64 `json:"delivered"`
	Opened       *float64 `json:"opened"`
	Clicked      *float64 `json:"clicked"`
	Bounced      *float64 `json:"bounced"`
	Unsubscribed *float64 `json:"unsubscribed"`
	Spam         *float64 `json:"spam"`
}

// SeriesPoint groups the rows sharing a date.
type SeriesPoint struct {
	Date      string   `json:"date"`
	Campaigns int      `json:"campaigns"`
	RowIDs    []string `json:"rowIds"`
}

// Dashboard is the cached analytics payload.
type Dashboard struct {
	Rows        []Row         `json:"rows"`
	Series      []SeriesPoint `json:"series"`
	RefreshedAt time.Time     `json:"refreshedAt"`
}

// BuildDashboard orders rows newest first and groups them by date into an
// oldest-first series. Rows without a date are listed but not grouped.
func BuildDashboard(rows []Row, refreshedAt time.Time) *Dashboard {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Row) int { return cmp.Compare(b.Date, a.Date) })

	byDate := map[string]*SeriesPoint{}
	for _, r := range sorted {
		if r.Date == "" {
			continue
		}
		p, ok := byDate[r.Date]
		if !ok {
			p = &SeriesPoint{Date: r.Date}
			byDate[r.Date] = p
		}
		p.Campaigns++
		p.RowIDs = append(p.RowIDs, r.ID)
	}
	series := make([]SeriesPoint, 0, len(byDate))
	for _, p := range byDate {
		series = append(series, *p)
	}
	slices.SortFunc(series, func(a, b SeriesPoint) int { return cmp.Compare(a.Date, b.Date) })

	if sorted == nil {
		sorted = []Row{}
	}
	return &Dashboard{Rows: sorted, Series: series, RefreshedAt: refreshedAt.UTC()}
}

// Source yields the current rows.
type Source interface {
	Rows(ctx context.Context) ([]Row, error)
}

// Cache persists serialized dashboards. LoadAnalytics returns an error
// matched by the notFound predicate when nothing is cached.
type Cache interface {
	SaveAnalytics(source string, payload []byte, refreshedAt time.Time) error
	LoadAnalytics(source string) ([]byte, time.Time, error)
}

const cacheKey = "notion"

// Service refreshes the dashboard from a Source into a Cache.
type Service struct {
	source   Source
	cache    Cache
	notFound func(error) bool
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex // serializes refreshes
}

// NewService wires a source to a cache. notFound reports whether a cache
// load error means "nothing cached yet".
func NewService(source Source, cache Cache, notFound func(error) bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, notFound: notFound, now: time.Now, logger: logger}
}

// Refresh fetches rows and stores a new dashboard.
func (s *Service) Refresh(ctx context.Context) (*Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.source.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch analytics: %w", err)
	}
	d := BuildDashboard(rows, s.now())
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode dashboard: %w", err)
	}
	if err := s.cache.SaveAnalytics(cacheKey, payload, d.RefreshedAt); err != nil {
		return nil, err
	}
	s.logger.Info("analytics refreshed", "rows", len(d.Rows), "dates", len(d.Series))
	return d, nil
}

// Latest returns the cached dashboard, refreshing first when nothing is
// cached.
func (s *Service) Latest(ctx context.Context) (*Dashboard, error) {
	payload, _, err := s.cache.LoadAnalytics(cacheKey)
	if err != nil {
		if s.notFound != nil && s.notFound(err) {
			return s.Refresh(ctx)
		}
		return nil, err
	}
	var d Dashboard
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode cached dashboard: %w", err)
	}
	return &d, nil
}

// RefreshJob adapts Refresh to a scheduler job.
func (s *Service) RefreshJob(ctx context.Context) error {
	_, err := s.Refresh(ctx)
	return err
}

// ErrNotConfigured is returned by callers when no analytics source is set.
var ErrNotConfigured = errors.New("analytics is not configured")
