package domain

import "time"

type SaleStatus string

const (
	SaleStatusSubmitted SaleStatus = "submitted"
	SaleStatusShipped   SaleStatus = "shipped"
)

// Rank orders statuses along the fulfillment lifecycle. Merges never move a
// row to a lower rank.
func (s SaleStatus) Rank() int {
	switch s {
	case SaleStatusSubmitted:
		return 1
	case SaleStatusShipped:
		return 2
	default:
		return 0
	}
}

type SiteCode string

const (
	SiteCodeM SiteCode = "M"
	SiteCodeY SiteCode = "Y"
	SiteCodeP SiteCode = "P"
	SiteCodeR SiteCode = "R"
)

func (c SiteCode) Valid() bool {
	switch c {
	case SiteCodeM, SiteCodeY, SiteCodeP, SiteCodeR:
		return true
	}
	return false
}

// Sale is the append-only record of one seller handing out one pool unit.
type Sale struct {
	SaleID       string     `json:"sale_id"`
	SellerID     string     `json:"seller_id"`
	ManagerID    string     `json:"manager_id,omitempty"`
	ProductID    string     `json:"product_id"`
	SiteCode     SiteCode   `json:"site_code"`
	PriceAtSale  *int64     `json:"price_at_sale,omitempty"`
	ShippingCode string     `json:"shipping_code"`
	EvidenceRef  string     `json:"evidence_ref,omitempty"`
	UnitID       string     `json:"unit_id"`
	ArtifactRef  string     `json:"artifact_ref"`
	Status       SaleStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
