package domain

import "time"

// SyncStats holds statistics about a sync operation.
type SyncStats struct {
	SourceID      string
	Candidates    int
	Fetched       int
	New           int
	Updated       int
	Restored      int
	Unchanged     int
	Errors        int
	Published     int
	ErrorMessages []string
	Duration      time.Duration
}

func (s *SyncStats) AddError(msg string) {
	s.Errors++
	s.ErrorMessages = append(s.ErrorMessages, msg)
}

// AllFailed reports whether every candidate of the run ended in an error.
func (s *SyncStats) AllFailed() bool {
	return s.Errors > 0 && s.Fetched == 0 && s.Unchanged == 0
}
