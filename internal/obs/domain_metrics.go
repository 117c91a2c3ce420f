package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromotionScanTotal counts applicability scans by outcome.
	PromotionScanTotal *prometheus.CounterVec
	// PromotionAppliedTotal counts settled promotion applications by kind.
	PromotionAppliedTotal *prometheus.CounterVec
	// PromotionRejectedTotal counts scan rejections by reason.
	PromotionRejectedTotal *prometheus.CounterVec
	// DiscountAmount records granted discount values.
	DiscountAmount *prometheus.HistogramVec
	// ScanDuration records applicability scan latency in milliseconds.
	ScanDuration prometheus.Histogram
	// SuggestionDraftsTotal counts generated suggestion drafts by heuristic.
	SuggestionDraftsTotal *prometheus.CounterVec
	// CacheSnapshotHits counts active-set cache hits and misses.
	CacheSnapshotHits *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromotionScanTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_scan_total",
			Help:      "Count of promotion applicability scans by outcome.",
		}, []string{"result"})
		PromotionAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_applied_total",
			Help:      "Count of settled promotion applications by kind.",
		}, []string{"kind"})
		PromotionRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_rejected_total",
			Help:      "Count of promotions rejected during a scan by reason.",
		}, []string{"reason"})
		DiscountAmount = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discount_amount",
			Help:      "Granted discount amounts in major currency units.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"kind"})
		ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "promotion_scan_duration_ms",
			Help:      "Latency of promotion applicability scans in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		})
		SuggestionDraftsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_drafts_total",
			Help:      "Count of generated suggestion drafts by heuristic.",
		}, []string{"heuristic"})
		CacheSnapshotHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_cache_requests_total",
			Help:      "Active promotion snapshot cache lookups by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, PromotionScanTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionScanTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionAppliedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionAppliedTotal = v
			}
		})
		mustRegisterCollector(reg, PromotionRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromotionRejectedTotal = v
			}
		})
		mustRegisterCollector(reg, DiscountAmount, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				DiscountAmount = v
			}
		})
		mustRegisterCollector(reg, ScanDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				ScanDuration = v
			}
		})
		mustRegisterCollector(reg, SuggestionDraftsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SuggestionDraftsTotal = v
			}
		})
		mustRegisterCollector(reg, CacheSnapshotHits, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CacheSnapshotHits = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
