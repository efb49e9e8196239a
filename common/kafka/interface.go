// common/kafka/interface.go
//
// Package kafka holds the minimal publishing contract. It does not import
// sarama so callers can depend on it without the driver.
package kafka

import "context"

// Record is one key/value pair to publish.
type Record struct {
	Key   []byte
	Value []byte
}

// Producer publishes messages to Kafka.
type Producer interface {
	// Publish delivers one message according to the RequiredAcks policy,
	// retrying with back-off.
	Publish(ctx context.Context, topic string, key, value []byte) error
	// PublishBatch delivers records in one round trip, retrying the batch as a whole.
	PublishBatch(ctx context.Context, topic string, records []Record) error
	// Ping refreshes cluster metadata.
	Ping(ctx context.Context) error
	Close() error
}
