package pricing

type QuoteRequest struct {
	MarketPrice  float64   `json:"market_price"`
	ParameterSet string    `json:"parameter_set,omitempty"`
	Overrides    Overrides `json:"overrides"`
}

type QuoteResponse struct {
	Currency  string    `json:"currency"`
	Breakdown Breakdown `json:"breakdown"`
}
