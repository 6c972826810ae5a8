package domain

import (
	"time"
)

// RuleSetRecord is a named rule-set text persisted by the storage layer
type RuleSetRecord struct {
	Name             string    `gorm:"primaryKey" json:"name"`
	Text             string    `json:"text"`
	GlobalMultiplier string    `json:"global_multiplier"` // decimal string, empty means 1
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RateSnapshot is the last known rate reported by an exchange for a pair
type RateSnapshot struct {
	Exchange  string    `gorm:"primaryKey" json:"exchange"`
	Pair      string    `gorm:"primaryKey" json:"pair"`
	Rate      string    `json:"rate"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}
