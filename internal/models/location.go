package models

// MaxQueries is the number of free-text location inputs a session accepts.
const MaxQueries = 5

// LocationQuery is one non-blank user input. Index is its position among the
// non-blank inputs, not the input slot it was typed into.
type LocationQuery struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// LocationCandidate is one resolved suggestion for a query.
type LocationCandidate struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Key     string `json:"key"`
}

// CandidateGroup holds the lookup outcome for one query. LookupFailed separates
// "the lookup call failed" from "the lookup found nothing" (empty Candidates).
type CandidateGroup struct {
	Query        LocationQuery       `json:"query"`
	Candidates   []LocationCandidate `json:"candidates"`
	LookupFailed bool                `json:"lookupFailed,omitempty"`
}

// CandidateSet maps query index to its lookup outcome.
type CandidateSet map[int]CandidateGroup

// Selection is one radio choice: candidate CandidateIndex within query group QueryIndex.
type Selection struct {
	QueryIndex     int `json:"queryIndex"`
	CandidateIndex int `json:"candidateIndex"`
}

// ChosenLocation is a confirmed candidate reduced to what the forecast call needs.
type ChosenLocation struct {
	City string `json:"city"`
	Key  string `json:"key"`
}
