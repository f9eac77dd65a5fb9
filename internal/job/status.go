package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gsakit-io/gsakit/internal/blackboard"
)

// Artifact describes one generated report artifact linked from a status
// record.
type Artifact struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimetype"`
}

// Status is the durable status record of a job. The JSON layout is the wire
// format returned by the status endpoints, so field names are part of the
// public API.
type Status struct {
	ID          string     `json:"id"`
	Status      State      `json:"status"`
	Description string     `json:"description,omitempty"`
	Completed   float64    `json:"completed"`
	DatasetID   string     `json:"dataset_id,omitempty"`
	Reports     []Artifact `json:"reports,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// statusKey returns the blackboard key of a job's status record. Report jobs
// reuse the analysis id, so their records live under a separate prefix.
func statusKey(kind Kind, jobID string) string {
	if kind == KindReport {
		return blackboard.ReportStatusKey(jobID)
	}

	return blackboard.StatusKey(jobID)
}

// encodeStatus serializes a status record for storage.
func encodeStatus(status *Status) ([]byte, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encoding status for %s: %w", status.ID, err)
	}

	return data, nil
}

// decodeStatus deserializes a stored status record.
func decodeStatus(data []byte) (*Status, error) {
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decoding status record: %w", err)
	}

	return &status, nil
}
