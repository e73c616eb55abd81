package search

// Record is the data indexed per artwork.
type Record struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Medium string `json:"medium"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Medium  string `json:"medium"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request over the gallery.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over artworks.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
