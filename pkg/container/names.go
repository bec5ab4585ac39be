package container

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const containerNamePrefix = "agentcompany-worker-"

// GenerateContainerName builds a unique container name for a worker:
// agentcompany-worker-<workerId>-<ms-timestamp>-<6hex>.
func GenerateContainerName(workerID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s%s-%d-%s", containerNamePrefix, workerID, time.Now().UnixMilli(), suffix)
}

// WorkerIDFromContainerName recovers the worker ID from a generated name:
// strip the fixed prefix, then drop the final two hyphen-separated segments.
// Worker IDs may themselves contain hyphens.
func WorkerIDFromContainerName(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, containerNamePrefix)
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-2], "-"), true
}
