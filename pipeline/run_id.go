package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// generateRunID returns a globally unique identifier for one plan execution.
//
// The identifier is prefixed with a normalized pipeline name to improve
// observability in logs, metrics, and published events without sacrificing
// uniqueness.
func generateRunID(pipeline string) string {
	prefix := strings.ReplaceAll(pipeline, " ", "-")
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
