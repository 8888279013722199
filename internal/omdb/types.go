package omdb

// Response is the subset of the OMDb title payload the catalog stores.
// It is also the value persisted in the lookup cache, so the json and yaml
// tags follow OMDb's own field names.
type Response struct {
	Title     string `json:"Title,omitempty" yaml:"Title,omitempty"`
	Year      string `json:"Year,omitempty" yaml:"Year,omitempty"`
	Runtime   string `json:"Runtime,omitempty" yaml:"Runtime,omitempty"`
	Director  string `json:"Director,omitempty" yaml:"Director,omitempty"`
	Plot      string `json:"Plot,omitempty" yaml:"Plot,omitempty"`
	BoxOffice string `json:"BoxOffice,omitempty" yaml:"BoxOffice,omitempty"`
	ImdbID    string `json:"imdbID,omitempty" yaml:"imdbID,omitempty"`
	Type      string `json:"Type,omitempty" yaml:"Type,omitempty"`
	Response  string `json:"Response,omitempty" yaml:"Response,omitempty"` // "True" or "False"
	Error     string `json:"Error,omitempty" yaml:"Error,omitempty"`       // Present if Response is "False"
}

// Record is a normalized enrichment record. Nil pointers mean the attribute
// is absent.
type Record struct {
	ImdbID    *string
	Plot      *string
	BoxOffice *string
	Runtime   *int
	Directors []string
}

// Outcome classifies a lookup.
type Outcome int

const (
	// Unavailable means the service could not give an answer: no API key,
	// transport failure, rate limit, or open circuit.
	Unavailable Outcome = iota
	// NotFound means the service answered and has no such title.
	NotFound
	// Found means the service returned a record.
	Found
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// Authoritative reports whether the outcome reflects an actual answer from
// the service, as opposed to the absence of one.
func (o Outcome) Authoritative() bool {
	return o == Found || o == NotFound
}

// Result is what Lookup returns.
type Result struct {
	Outcome  Outcome
	Response *Response
	Record   Record
}
