package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/kafka/producer"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

func sampleEvents() []*timeline.Event {
	return []*timeline.Event{
		{ID: "a", Feed: timeline.FeedTransactions, Raw: json.RawMessage(`{"id":"a","title":"Buy"}`), HasDocuments: true,
			Detail: json.RawMessage(`{"id":"a","sections":[]}`)},
		{ID: "b", Feed: timeline.FeedActivityLog, Raw: json.RawMessage(`{"id":"b","title":"Login"}`)},
		{ID: "c", Feed: timeline.FeedTransactions, Raw: json.RawMessage(`{"id":"c"}`)},
	}
}

func readIDs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it["id"].(string))
	}
	return ids
}

func TestJSONWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := (JSONWriter{Dir: dir}).Write(context.Background(), sampleEvents()); err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		OtherEventsFile:    "b,c",
		DocumentEventsFile: "a",
		AllEventsFile:      "b,c,a",
	}
	for file, want := range cases {
		if got := strings.Join(readIDs(t, filepath.Join(dir, file)), ","); got != want {
			t.Errorf("%s ids = %s; want %s", file, got, want)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, DocumentEventsFile))
	if !strings.Contains(string(data), `"source": "transactions"`) || !strings.Contains(string(data), `"details"`) {
		t.Errorf("document events missing source/details: %s", data)
	}
}

func TestJSONWriter_EmptySetWritesEmptyArrays(t *testing.T) {
	dir := t.TempDir()
	if err := (JSONWriter{Dir: dir}).Write(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, AllEventsFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("all events = %q; want []", data)
	}
}

func TestKafkaSink_PublishesInBatches(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewSyncProducer(t, cfg)
	for i := 0; i < 3; i++ {
		mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if !json.Valid(val) {
				return errors.New("value is not JSON")
			}
			return nil
		})
	}

	prod := producer.NewFromSyncProducer(mp, backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 1}, logger.NewNop())
	defer prod.Close()

	sink := NewKafkaSink(prod, "timeline.events", 2, logger.NewNop())
	if err := sink.Write(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestKafkaSink_PublishError(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	prod := producer.NewFromSyncProducer(mp, backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 1}, logger.NewNop())
	defer prod.Close()

	sink := NewKafkaSink(prod, "timeline.events", 10, logger.NewNop())
	if err := sink.Write(context.Background(), sampleEvents()[:1]); err == nil {
		t.Fatal("expected publish error")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Write(context.Context, []*timeline.Event) error {
	f.calls++
	return errors.New("nope")
}

func TestFanout_ContinuesAfterFailure(t *testing.T) {
	bad := &failingSink{}
	dir := t.TempDir()
	f := NewFanout(logger.NewNop(), bad, JSONWriter{Dir: dir})

	err := f.Write(context.Background(), sampleEvents())
	if err == nil || !strings.Contains(err.Error(), "failing") {
		t.Fatalf("expected joined error naming the sink, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, AllEventsFile)); statErr != nil {
		t.Errorf("json sink did not run after failure: %v", statErr)
	}
}
