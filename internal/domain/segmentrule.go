package domain

import "time"

// SegmentRule is a tenant-configurable segment override. Rules are CEL
// expressions over a customer's RFM fields, evaluated in ascending priority
// order on top of the built-in segment ladder; the first rule that matches
// overrides the ladder's label.
type SegmentRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Label    string `json:"label"`

	// Expression is a CEL boolean over r_score, f_score, m_score,
	// rfm_score, recency, frequency, monetary_avg and t.
	Expression string `json:"expression"`

	// Priority orders rules; lower values are evaluated first.
	Priority int `json:"priority"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
