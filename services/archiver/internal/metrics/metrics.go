// services/archiver/internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FramesTotal counts decoded inbound frames by kind.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Inbound frames by kind (answer, delta, closed, error)",
	}, []string{"kind"})

	// Reconnects counts successful reconnect + resubscribe rounds.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnects after a dropped connection",
	})

	// OpenSubscriptions is the number of tracked subscriptions.
	OpenSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "archiver",
		Subsystem: "stream",
		Name:      "open_subscriptions",
		Help:      "Subscriptions currently tracked by the multiplexer",
	})

	// PagesTotal counts timeline pages per feed.
	PagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "timeline",
		Name:      "pages_total",
		Help:      "Timeline pages received",
	}, []string{"feed"})

	// EventsTotal counts events inserted into the event set per feed.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "timeline",
		Name:      "events_total",
		Help:      "Timeline events collected",
	}, []string{"feed"})

	// DuplicateEvents counts ids seen in both feeds.
	DuplicateEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "timeline",
		Name:      "duplicate_events_total",
		Help:      "Events ignored because their id was already collected",
	})

	// DetailsTotal counts detail outcomes: requested, received, skipped, failed.
	DetailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "details",
		Name:      "total",
		Help:      "Detail lookups by outcome",
	}, []string{"outcome"})

	// Resubscribes counts retries of failed subscriptions.
	Resubscribes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "stream",
		Name:      "resubscribes_total",
		Help:      "Subscriptions retried after an error frame",
	})

	// DownloadsTotal counts document tasks by outcome: queued, duplicate, ok, failed.
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "documents",
		Name:      "downloads_total",
		Help:      "Document downloads by outcome",
	}, []string{"outcome"})

	// DownloadBytes is the total size of written documents.
	DownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "documents",
		Name:      "bytes_total",
		Help:      "Bytes written to disk",
	})

	// DownloadLatency observes fetch + write duration.
	DownloadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "archiver",
		Subsystem: "documents",
		Name:      "download_seconds",
		Help:      "Time to fetch and persist one document",
		Buckets:   prometheus.DefBuckets,
	})

	// SinkErrors counts failed writes to the export sinks.
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiver",
		Subsystem: "export",
		Name:      "errors_total",
		Help:      "Export sink failures",
	}, []string{"sink"})
)

// Register registers every collector once. Without arguments the default
// registerer is used.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			FramesTotal,
			Reconnects,
			OpenSubscriptions,
			PagesTotal,
			EventsTotal,
			DuplicateEvents,
			DetailsTotal,
			Resubscribes,
			DownloadsTotal,
			DownloadBytes,
			DownloadLatency,
			SinkErrors,
		)
	})
}
