package protocol

// RaceSummary is one row of GET /v1/races.
type RaceSummary struct {
	RaceID       string `json:"race_id"`
	Seed         int64  `json:"seed"`
	Variant      string `json:"variant"`
	Digest       string `json:"digest"`
	Participants int    `json:"participants"`
	Winners      int    `json:"winners"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

type Finisher struct {
	Entity int    `json:"entity"`
	Name   string `json:"name"`
	// Rank is 0 for finishers that crossed after every winner slot was taken.
	Rank int    `json:"rank"`
	Tick uint64 `json:"tick"`
	AtMs int64  `json:"at_ms"`
}

// HTTP response for GET /v1/races/{id}/results.
type ResultsResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Race            RaceSummary `json:"race"`
	Winners         []Finisher  `json:"winners"`
	Finishers       []Finisher  `json:"finishers"`
}

// NewResults splits finishers into the ranked winners and the full list.
func NewResults(race RaceSummary, finishers []Finisher) ResultsResponse {
	r := ResultsResponse{
		ProtocolVersion: Version,
		Race:            race,
		Winners:         []Finisher{},
		Finishers:       finishers,
	}
	if r.Finishers == nil {
		r.Finishers = []Finisher{}
	}
	for _, f := range finishers {
		if f.Rank > 0 {
			r.Winners = append(r.Winners, f)
		}
	}
	return r
}
