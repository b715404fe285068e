package domain

import "time"

// OrderProjection mirrors a Sale keyed for owner-scoped lookup.
type OrderProjection struct {
	OwnerID     string     `json:"owner_id"`
	OrderID     string     `json:"order_id"`
	Status      SaleStatus `json:"status"`
	ArtifactRef string     `json:"artifact_ref,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProjectSale builds the projection row for a freshly written sale.
func ProjectSale(s Sale) OrderProjection {
	return OrderProjection{
		OwnerID:     s.SellerID,
		OrderID:     s.SaleID,
		Status:      s.Status,
		ArtifactRef: s.ArtifactRef,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Merge applies patch onto o the way the row store does: empty fields leave the
// stored value alone and status never moves backwards.
func (o OrderProjection) Merge(patch OrderProjection) OrderProjection {
	out := o
	if out.OwnerID == "" {
		out.OwnerID = patch.OwnerID
	}
	if out.OrderID == "" {
		out.OrderID = patch.OrderID
	}
	if patch.Status != "" && patch.Status.Rank() >= o.Status.Rank() {
		out.Status = patch.Status
	}
	if patch.ArtifactRef != "" {
		out.ArtifactRef = patch.ArtifactRef
	}
	if !patch.UpdatedAt.IsZero() {
		out.UpdatedAt = patch.UpdatedAt
	}
	return out
}
