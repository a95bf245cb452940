package models

import "time"

// ResolutionStep names the phase the resolution job is in
type ResolutionStep string

const (
	StepIdle           ResolutionStep = "idle"
	StepInitializing   ResolutionStep = "initializing"
	StepFundResolution ResolutionStep = "fund_resolution"
	StepParentInfo     ResolutionStep = "parent_info"
	StepUnderlyingInfo ResolutionStep = "underlying_info"
	StepComplete       ResolutionStep = "complete"
	StepFailed         ResolutionStep = "failed"
)

// ResolutionError is one entry of the bounded error log
type ResolutionError struct {
	Symbol    string    `json:"symbol"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ResolutionStatus is the state of the single active resolution run
type ResolutionStatus struct {
	IsRunning     bool           `json:"isRunning"`
	RunID         string         `json:"runId,omitempty"`
	SnapshotID    int64          `json:"snapshotId,omitempty"`
	CurrentStep   ResolutionStep `json:"currentStep"`
	CurrentSymbol string         `json:"currentSymbol,omitempty"`

	FundsTotal          int `json:"fundsTotal"`
	FundsProcessed      int `json:"fundsProcessed"`
	ParentTotal         int `json:"parentSymbolsTotal"`
	ParentProcessed     int `json:"parentSymbolsProcessed"`
	UnderlyingTotal     int `json:"underlyingSymbolsTotal"`
	UnderlyingProcessed int `json:"underlyingSymbolsProcessed"`
	CachedHits          int `json:"cachedHits"`
	APICalls            int `json:"apiCalls"`

	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	LastUpdate        *time.Time        `json:"lastUpdate,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	CompletionMessage string            `json:"completionMessage,omitempty"`
	Errors            []ResolutionError `json:"errors"`
}

// ProgressPercent is processed/total over parent and underlying symbols,
// rounded to one decimal place.
func (s *ResolutionStatus) ProgressPercent() float64 {
	total := s.ParentTotal + s.UnderlyingTotal
	if total == 0 {
		return 0
	}
	done := s.ParentProcessed + s.UnderlyingProcessed
	pct := float64(done) / float64(total) * 100
	return float64(int64(pct*10+0.5)) / 10
}

// ParentRemaining returns the parent symbols still to process
func (s *ResolutionStatus) ParentRemaining() int {
	return max(0, s.ParentTotal-s.ParentProcessed)
}

// UnderlyingRemaining returns the constituent symbols still to process
func (s *ResolutionStatus) UnderlyingRemaining() int {
	return max(0, s.UnderlyingTotal-s.UnderlyingProcessed)
}

// Elapsed returns run time so far, or the full run time once finished
func (s *ResolutionStatus) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if !s.IsRunning && s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(*s.StartedAt).Truncate(time.Second)
}

// Clone returns a deep copy safe to hand to readers
func (s *ResolutionStatus) Clone() ResolutionStatus {
	out := *s
	out.Errors = append([]ResolutionError(nil), s.Errors...)
	if out.Errors == nil {
		out.Errors = []ResolutionError{}
	}
	return out
}
