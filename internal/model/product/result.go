package product

// FetchResult is the outcome of resolving one referenced product id.
type FetchResult struct {
	ID      string   `json:"id"`
	Summary *Summary `json:"summary,omitempty"`
	Err     error    `json:"-"`
}

// OK reports whether the product was resolved.
func (r FetchResult) OK() bool {
	return r.Err == nil && r.Summary != nil
}
