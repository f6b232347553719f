package domain

import "time"

// Recommendation pairs a user with a digest. At most one exists per pair.
type Recommendation struct {
	ID        string
	UserID    string
	DigestID  string
	Score     float64
	Rank      int
	Reasoning string
	CreatedAt time.Time
}

// RankedItem is a fully populated digest as ordered by the ranking engine.
type RankedItem struct {
	Digest    Digest
	Score     float64
	Rank      int
	Reasoning string
}

// DeliveryResult reports the outcome of a single delivery attempt.
type DeliveryResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
