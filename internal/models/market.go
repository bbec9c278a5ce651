package models

import "time"

// Quote is a point-in-time quote for an underlying symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	PrevClose float64   `json:"prev_close"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    int64     `json:"volume"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OptionQuote is one row of an options chain.
type OptionQuote struct {
	Symbol            string     `json:"symbol"` // OCC symbol
	Underlying        string     `json:"underlying"`
	Expiration        string     `json:"expiration"` // YYYY-MM-DD
	Strike            float64    `json:"strike"`
	Type              OptionType `json:"type"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	Last              float64    `json:"last"`
	Volume            int64      `json:"volume"`
	OpenInterest      int64      `json:"open_interest"`
	ImpliedVolatility float64    `json:"implied_volatility"`
}
