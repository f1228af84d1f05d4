package domain

// Participant is a registered shopper. ExternalID is the public identifier
// presented at the terminal (e.g. "P-101"); GroupID is only used to segment
// the export.
type Participant struct {
	ID         int64
	ExternalID string
	GroupID    string
}
