package models

import "time"

// MetricsSnapshot is a compact view of process counters for admins.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	ReviewsCreated           uint64    `json:"reviews_created"`
	ReviewsModerated         uint64    `json:"reviews_moderated"`
	StatisticsRecomputes     uint64    `json:"statistics_recomputes"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
