package domain

import "time"

// Reputation score bounds. A user with no recorded score starts at the
// default.
const (
	ScoreMin     = 0
	ScoreMax     = 100
	ScoreDefault = 50
)

// ReputationScore is a user's current bounded standing.
type ReputationScore struct {
	UserID    string    `json:"user_id"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreHistoryEntry is one immutable row of the append-only adjustment
// history. Corrections are new opposite-signed entries, never edits.
type ScoreHistoryEntry struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Reason    string                 `json:"reason"`
	Delta     int                    `json:"delta"`
	Before    int                    `json:"before"`
	After     int                    `json:"after"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ClampScore bounds a score value into [ScoreMin, ScoreMax].
func ClampScore(v int) int {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
