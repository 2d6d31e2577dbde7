package models

import "time"

// DuplicateCluster groups ProcessedQuestions judged semantically equivalent (C8).
type DuplicateCluster struct {
	ClusterID       string    `json:"cluster_id"`
	MemberIDs       []string  `json:"member_ids"`
	RepresentativeID string   `json:"representative_id"`
	MaxSimilarity   float64   `json:"max_similarity"`
	CrossSource     bool      `json:"cross_source"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
