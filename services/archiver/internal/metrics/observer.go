// services/archiver/internal/metrics/observer.go
package metrics

import "github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"

// StreamObserver feeds multiplexer events into the collectors above.
type StreamObserver struct{}

var _ stream.Observer = StreamObserver{}

func (StreamObserver) FrameReceived(kind stream.FrameKind) {
	FramesTotal.WithLabelValues(kind.String()).Inc()
}

func (StreamObserver) Reconnected(int) { Reconnects.Inc() }

func (StreamObserver) OpenSubscriptions(n int) { OpenSubscriptions.Set(float64(n)) }
