package models

import "time"

// Topic is a node in the catalogue tree. Domain-flagged nodes carry the
// progression thresholds for every topic beneath them.
type Topic struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	ParentID        *string   `db:"parent_id" json:"parent_id,omitempty"`
	IsDomain        bool      `db:"is_domain" json:"is_domain"`
	ExpertThreshold *int      `db:"expert_threshold" json:"expert_threshold,omitempty"`
	LegendThreshold *int      `db:"legend_threshold" json:"legend_threshold,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DomainThresholds holds the completed-session counts gating Expert and
// Legend levels for one domain.
type DomainThresholds struct {
	DomainID string `json:"domain_id"`
	Expert   int    `json:"expert"`
	Legend   int    `json:"legend"`
}
