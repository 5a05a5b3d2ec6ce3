package models

import (
	"time"
)

// Portfolio represents a simulated equity portfolio driven by automated
// trading decisions. Created once by the seeder; trades, snapshots and
// decisions hang off it by foreign key.
type Portfolio struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	StrategyName string    `json:"strategyName" db:"strategy_name"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
