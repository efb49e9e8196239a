// services/archiver/internal/export/json.go
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

// Artifact file names.
const (
	OtherEventsFile    = "other_events.json"
	DocumentEventsFile = "events_with_documents.json"
	AllEventsFile      = "all_events.json"
)

// JSONWriter writes the three event artifacts into Dir.
type JSONWriter struct {
	Dir string
}

func (w JSONWriter) Name() string { return "json" }

func (w JSONWriter) Write(ctx context.Context, events []*timeline.Event) error {
	_, span := tracer.Start(ctx, "JSONWriter.Write")
	defer span.End()

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("export: mkdir %s: %w", w.Dir, err)
	}
	withDocs, withoutDocs := Split(events)
	all := make([]*timeline.Event, 0, len(events))
	all = append(all, withoutDocs...)
	all = append(all, withDocs...)

	files := []struct {
		name   string
		events []*timeline.Event
	}{
		{OtherEventsFile, withoutDocs},
		{DocumentEventsFile, withDocs},
		{AllEventsFile, all},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(w.Dir, f.name), f.events); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func writeJSON(path string, events []*timeline.Event) error {
	if events == nil {
		events = []*timeline.Event{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export: rename %s: %w", path, err)
	}
	return nil
}
