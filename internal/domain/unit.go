package domain

import "errors"

// Common validation errors for AnalysisUnit
var (
	ErrEmptyUnitPath = errors.New("analysis unit path cannot be empty")
)

// AnalysisUnit is one discrete piece of work dispatched to a single worker,
// typically one file under review. Units are immutable once created and
// consumed exactly once by exactly one worker.
type AnalysisUnit struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	BlobID   string `json:"blob_id,omitempty"`
}

// NewAnalysisUnit creates an AnalysisUnit for the given file path.
// Returns an error if validation fails.
func NewAnalysisUnit(path, language, blobID string) (AnalysisUnit, error) {
	unit := AnalysisUnit{
		Path:     path,
		Language: language,
		BlobID:   blobID,
	}

	if err := unit.Validate(); err != nil {
		return AnalysisUnit{}, err
	}

	return unit, nil
}

// Validate checks if the AnalysisUnit has valid data.
func (u AnalysisUnit) Validate() error {
	if u.Path == "" {
		return ErrEmptyUnitPath
	}
	return nil
}
