package core

// Outcome is the result of one executed action.
type Outcome struct {
	Success     bool           `json:"success"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	UserVisible bool           `json:"user_visible"`
}

// ProcessingResult collects the outcomes of an action batch.
type ProcessingResult struct {
	Outcomes []Outcome `json:"outcomes"`
	Errors   []string  `json:"errors"`
}

// NewProcessingResult returns an empty result.
func NewProcessingResult() *ProcessingResult {
	return &ProcessingResult{Outcomes: []Outcome{}, Errors: []string{}}
}

// Add appends an outcome, recording its error when it failed.
func (r *ProcessingResult) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if !o.Success && o.Error != "" {
		r.Errors = append(r.Errors, o.Error)
	}
}

// Merge appends all outcomes and errors of other.
func (r *ProcessingResult) Merge(other *ProcessingResult) {
	if other == nil {
		return
	}
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Errors = append(r.Errors, other.Errors...)
}

// ResultSummary counts outcomes.
type ResultSummary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// Summary counts successful and failed outcomes.
func (r *ProcessingResult) Summary() ResultSummary {
	s := ResultSummary{Total: len(r.Outcomes), Errors: r.Errors}
	for _, o := range r.Outcomes {
		if o.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return s
}

// UserVisibleActions returns descriptions of outcomes meant for the user.
func (r *ProcessingResult) UserVisibleActions() []string {
	out := []string{}
	for _, o := range r.Outcomes {
		if o.UserVisible && o.Description != "" {
			out = append(out, o.Description)
		}
	}
	return out
}
