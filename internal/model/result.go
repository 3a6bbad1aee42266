package model

import "time"

// Citation links a statement in the answer to one evidence record.
type Citation struct {
	Index      int        `json:"index"` // 1-based evidence number used in the prompt
	Origin     Origin     `json:"origin"`
	Title      string     `json:"title,omitempty"`
	Provenance Provenance `json:"provenance"`
	Snippet    string     `json:"snippet"`
}

// SynthesisResult is the final answer for one request.
type SynthesisResult struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Degraded   bool       `json:"degraded"`
}

// FileReport summarizes what happened to one attached file.
type FileReport struct {
	Name    string `json:"name"`
	Format  string `json:"format,omitempty"`
	Success bool   `json:"success"`
	Units   int    `json:"units,omitempty"` // pages or rows extracted
	Chunks  int    `json:"chunks"`
	Error   string `json:"error,omitempty"`
}

// Response is everything a caller receives for one request.
type Response struct {
	RequestID   string           `json:"request_id"`
	Query       Query            `json:"query"`
	Decision    RoutingDecision  `json:"decision"`
	Result      SynthesisResult  `json:"result"`
	Evidence    []EvidenceRecord `json:"evidence"`
	FileReports []FileReport     `json:"file_reports,omitempty"`
	Transitions []Transition     `json:"transitions"`
	Elapsed     time.Duration    `json:"elapsed_ns"`
}
