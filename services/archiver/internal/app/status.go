// services/archiver/internal/app/status.go
package app

import (
	"encoding/json"
	"net/http"

	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

type progressSource interface {
	Status() timeline.Status
}

type downloadSource interface {
	Stats() documents.Stats
}

// StatusView is the body of GET /status.
type StatusView struct {
	RunID     string          `json:"run_id"`
	Timeline  timeline.Status `json:"timeline"`
	Documents documents.Stats `json:"documents"`
}

func statusHandler(runID string, progress progressSource, downloads downloadSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		view := StatusView{
			RunID:     runID,
			Timeline:  progress.Status(),
			Documents: downloads.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	})
}
