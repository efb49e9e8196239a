// services/archiver/internal/timeline/tracing.go
package timeline

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("archiver/timeline")
