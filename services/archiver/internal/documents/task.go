// services/archiver/internal/documents/task.go
package documents

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Canonicalize strips the query string; the result is the dedup key.
func Canonicalize(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// Task is one document to fetch.
type Task struct {
	URL          string // as referenced, query included
	CanonicalURL string
	TargetPath   string
	DocumentID   string
	EventID      string
}

// NewTask builds a task with its canonical URL filled in.
func NewTask(rawURL, target, documentID, eventID string) Task {
	return Task{
		URL:          rawURL,
		CanonicalURL: Canonicalize(rawURL),
		TargetPath:   target,
		DocumentID:   documentID,
		EventID:      eventID,
	}
}

// DedupKey identifies the task across runs.
func (t Task) DedupKey() string { return t.CanonicalURL }

// DownloadFailure is the per-task error reported by the pipeline.
type DownloadFailure struct {
	Task Task
	Err  error
}

func (e *DownloadFailure) Error() string {
	return fmt.Sprintf("documents: download %s -> %s: %v", e.Task.CanonicalURL, e.Task.TargetPath, e.Err)
}
func (e *DownloadFailure) Unwrap() error { return e.Err }

// Ref is a document reference found in an event detail.
type Ref struct {
	EventID    string
	EventTitle string
	EventTime  time.Time
	Feed       string
	DocumentID string
	Title      string
	URL        string
	Date       time.Time
}

// Resolver maps a reference to the file it should be stored in.
type Resolver interface {
	Resolve(ref Ref) string
}

// PathResolver stores documents as
// <root>/<feed>/<YYYY-MM-DD> <event title> - <document title>.pdf
type PathResolver struct {
	Root string
}

func (r PathResolver) Resolve(ref Ref) string {
	date := ref.Date
	if date.IsZero() {
		date = ref.EventTime
	}
	name := fmt.Sprintf("%s %s - %s.pdf", date.Format("2006-01-02"), sanitize(ref.EventTitle), sanitize(ref.Title))
	return filepath.Join(r.Root, sanitize(ref.Feed), name)
}

var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(unsafeChars.Replace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		return "untitled"
	}
	return s
}

// withSuffix inserts " (suffix)" before the extension of path.
func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + " (" + sanitize(suffix) + ")" + ext
}
