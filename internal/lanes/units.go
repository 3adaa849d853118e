package lanes

import "fmt"

// Lane names a worker pool.
type Lane string

const (
	LaneQC      Lane = "qc"
	LaneSummary Lane = "summary"
)

// Unit is one piece of routable work.
type Unit interface {
	Lane() Lane
	// Describe identifies the unit in logs.
	Describe() string
}

// QualityControlUnit extracts one document of a job.
type QualityControlUnit struct {
	JobID  string
	FileID string
}

func (QualityControlUnit) Lane() Lane { return LaneQC }

func (u QualityControlUnit) Describe() string {
	return fmt.Sprintf("qc job=%s file=%s", u.JobID, u.FileID)
}

// SummaryUnit inventories every document of a job.
type SummaryUnit struct {
	JobID string
}

func (SummaryUnit) Lane() Lane { return LaneSummary }

func (u SummaryUnit) Describe() string {
	return "summary job=" + u.JobID
}
