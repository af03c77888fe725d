package models

import "time"

// Stage is a step of the INPUT -> CHOICE -> RESULT pipeline.
type Stage string

const (
	StageInput  Stage = "input"
	StageChoice Stage = "choice"
	StageResult Stage = "result"
)

// DefaultHorizonDays is the horizon a fresh session starts with.
const DefaultHorizonDays = 5

// Session is the per-user pipeline state. It is only mutated by stage transitions.
type Session struct {
	ID          string           `json:"id"`
	Stage       Stage            `json:"stage"`
	Queries     []LocationQuery  `json:"queries"`
	HorizonDays int              `json:"horizonDays"`
	Candidates  CandidateSet     `json:"candidates"`
	Chosen      []ChosenLocation `json:"chosen"`
	Forecasts   []ForecastSeries `json:"forecasts,omitempty"`
	Message     string           `json:"message,omitempty"` // user-facing validation message
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NewSession returns an empty session in the INPUT stage.
func NewSession(id string, now time.Time) Session {
	s := Session{ID: id}
	s.Reset(now)
	return s
}

// Reset clears all pipeline data and returns the session to INPUT.
func (s *Session) Reset(now time.Time) {
	s.Stage = StageInput
	s.Queries = []LocationQuery{}
	s.HorizonDays = DefaultHorizonDays
	s.Candidates = CandidateSet{}
	s.Chosen = []ChosenLocation{}
	s.Forecasts = nil
	s.Message = ""
	s.UpdatedAt = now
}

// Clone returns a deep copy so stored snapshots never share slices or maps with callers.
func (s Session) Clone() Session {
	out := s
	out.Queries = cloneSlice(s.Queries)
	out.Chosen = cloneSlice(s.Chosen)
	if s.Candidates != nil {
		out.Candidates = make(CandidateSet, len(s.Candidates))
		for k, g := range s.Candidates {
			g.Candidates = cloneSlice(g.Candidates)
			out.Candidates[k] = g
		}
	}
	if s.Forecasts != nil {
		out.Forecasts = make([]ForecastSeries, len(s.Forecasts))
		for i, f := range s.Forecasts {
			f.Days = cloneSlice(f.Days)
			out.Forecasts[i] = f
		}
	}
	return out
}

// cloneSlice copies in, keeping nil and empty distinct.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
