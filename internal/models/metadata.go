package models

import "time"

// InstrumentMetadata holds descriptive fields for an instrument fetched from
// the upstream API. It changes rarely and is refreshed on demand rather than
// on every collection run.
type InstrumentMetadata struct {
	InstrumentID      string    `json:"instrument_id" db:"instrument_id"`
	Symbol            string    `json:"symbol" db:"symbol"`
	Name              string    `json:"name" db:"name"`
	Description       string    `json:"description,omitempty" db:"description"`
	MarketCapRank     int       `json:"market_cap_rank" db:"market_cap_rank"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty" db:"circulating_supply"`
	TotalSupply       *float64  `json:"total_supply,omitempty" db:"total_supply"`
	MaxSupply         *float64  `json:"max_supply,omitempty" db:"max_supply"`
	GenesisDate       string    `json:"genesis_date,omitempty" db:"genesis_date"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
