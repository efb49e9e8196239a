// common/service.go
package common

import (
	"github.com/YaganovValera/broker-archive/common/backoff"
	producer "github.com/YaganovValera/broker-archive/common/kafka/producer"
)

// ServiceNameKey is the metric label carrying the service name.
const ServiceNameKey = "service"

// InitServiceName sets one service name for back-off and Kafka producer metrics.
// Call it from main() before the first retry or publish.
func InitServiceName(name string) {
	backoff.SetServiceLabel(name)
	producer.SetServiceLabel(name)
}
