package domain

import "github.com/google/uuid"

// Finding is one result produced by analyzing a single unit, e.g. a
// suggested optimization for a reviewed file. A unit may yield zero or
// more findings.
type Finding struct {
	ID       uuid.UUID `json:"id"`
	JobID    uuid.UUID `json:"job_id"`
	UnitPath string    `json:"unit_path"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Line     int       `json:"line,omitempty"`
}

// NewFinding creates a Finding for the given job and unit.
func NewFinding(jobID uuid.UUID, unitPath, title, body string, line int) Finding {
	return Finding{
		ID:       uuid.New(),
		JobID:    jobID,
		UnitPath: unitPath,
		Title:    title,
		Body:     body,
		Line:     line,
	}
}
