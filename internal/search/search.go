package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultApplication ResultType = "application"
	ResultComment     ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	ApplicationID  string     `json:"applicationId"`
	MunicipalityID string     `json:"municipalityId"`
	Status         string     `json:"status,omitempty"`
	IsInternal     bool       `json:"isInternal,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text                 string
	FilterType           ResultType // empty = all types
	FilterKind           string     // empty = all application kinds
	FilterMunicipalityID string
	Limit                int
	Offset               int
	IsStaff              bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ApplicationRecord is the data we index for an application.
type ApplicationRecord struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Details        string `json:"details"`
	Status         string `json:"status"`
	MunicipalityID string `json:"municipalityId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ApplicationID  string `json:"applicationId"`
	Body           string `json:"body"`
	MunicipalityID string `json:"municipalityId"`
	IsInternal     bool   `json:"isInternal"`
}
