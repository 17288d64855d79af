package evaluation

// QueryResult is the metric value of a single evaluated query.
type QueryResult struct {
	QueryID   string  `json:"query_id"`
	Documents int     `json:"documents"`
	Value     float64 `json:"value"`
}

// Report holds per-query values and their arithmetic mean.
type Report struct {
	Cutoff     int           `json:"cutoff"`
	QueryCount int           `json:"query_count"`
	Mean       float64       `json:"mean"`
	Results    []QueryResult `json:"results"`
}
