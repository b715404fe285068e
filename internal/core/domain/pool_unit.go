package domain

import "time"

type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "available"
	UnitStatusAssigned  UnitStatus = "assigned"
	UnitStatusConsumed  UnitStatus = "consumed"
)

// PendingSaleID marks a unit claimed before the owning sale id exists.
const PendingSaleID = "pending"

// PoolUnit is one allocatable token of a product's inventory.
type PoolUnit struct {
	ProductID      string
	UnitID         string
	Status         UnitStatus
	AssignedSaleID string
	ArtifactRef    string
	Version        int64 // optimistic locking
	UpdatedAt      time.Time
}

// StockLevel counts a product's units per status.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Assigned  int    `json:"assigned"`
	Consumed  int    `json:"consumed"`
}

func (s StockLevel) Total() int {
	return s.Available + s.Assigned + s.Consumed
}
