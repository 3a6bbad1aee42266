package model

import "time"

// State is a node of the request workflow.
type State string

const (
	StateStart                  State = "START"
	StateClassified             State = "CLASSIFIED"
	StateSearching              State = "SEARCHING"
	StateRetrieving             State = "RETRIEVING"
	StateSearchingAndRetrieving State = "SEARCHING_AND_RETRIEVING"
	StateSynthesizing           State = "SYNTHESIZING"
	StateDone                   State = "DONE"
)

// Transition is one reported edge of the workflow.
type Transition struct {
	From          State            `json:"from"`
	To            State            `json:"to"`
	Decision      *RoutingDecision `json:"decision,omitempty"`
	SearchCount   int              `json:"search_count"`
	RetrieveCount int              `json:"retrieve_count"`
	Elapsed       time.Duration    `json:"elapsed_ns"`
}

// RequestLog is the record emitted to the request log sink on completion.
type RequestLog struct {
	RequestID     string           `json:"request_id"`
	Query         string           `json:"query"`
	Files         []string         `json:"files,omitempty"`
	Decision      RoutingDecision  `json:"decision"`
	SearchCount   int              `json:"search_count"`
	RetrieveCount int              `json:"retrieve_count"`
	Timings       map[string]int64 `json:"timings_ms"`
	Result        SynthesisResult  `json:"result"`
	FileReports   []FileReport     `json:"file_reports,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
