package blackboard

import "fmt"

// Key layout of the blackboard. Keys are flat strings with a type prefix so
// that operators can reason about the keyspace from redis-cli.

// CounterKey returns the id-allocation counter for a job kind.
func CounterKey(kind string) string {
	return "counter:" + kind
}

// StatusKey returns the status record key for a job.
func StatusKey(jobID string) string {
	return "status:" + jobID
}

// ResultKey returns the result blob key for a job.
func ResultKey(jobID string) string {
	return "result:" + jobID
}

// DatasetKey returns the ExternalData record key for a loaded dataset.
func DatasetKey(datasetID string) string {
	return "dataset:" + datasetID
}

// ReportKey returns the artifact key for one report artifact.
func ReportKey(jobID, artifact string) string {
	return fmt.Sprintf("report:%s:%s", jobID, artifact)
}

// RequestKey returns the staged request-data key for a token. Both analysis
// requests and loaded dataset matrices are staged under this prefix.
func RequestKey(token string) string {
	return "request:" + token
}

// ReportStatusKey returns the report status record for an analysis job.
// Report generation is keyed to the analysis id it belongs to, so its status
// lives in a separate prefix.
func ReportStatusKey(jobID string) string {
	return "report-status:" + jobID
}

// ActiveKey returns the sweeper bookkeeping marker for a job.
func ActiveKey(kind, jobID string) string {
	return fmt.Sprintf("active:%s:%s", kind, jobID)
}

// ActivePattern matches all sweeper bookkeeping markers.
const ActivePattern = "active:*"

// DatasetIndexKey returns the loader idempotence key for a
// resource+parameter fingerprint.
func DatasetIndexKey(fingerprint string) string {
	return "dataset-index:" + fingerprint
}
