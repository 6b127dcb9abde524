package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// TurnFeatureDims is the length of the surface-feature vector stored per turn.
const TurnFeatureDims = 8

// TurnLog keeps one scored user turn for analytics and calibration.
type TurnLog struct {
	ID          string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID      string          `gorm:"column:user_id;type:text;index" json:"user_id"`
	SessionID   string          `gorm:"column:session_id;type:uuid;index" json:"session_id"`
	TurnIndex   int             `gorm:"column:turn_index;type:integer" json:"turn_index"`
	Difficulty  string          `gorm:"column:difficulty;type:text" json:"difficulty"`
	Content     string          `gorm:"column:content;type:text" json:"content"`
	Features    pgvector.Vector `gorm:"column:features;type:vector(8)" json:"features"`
	Scores      datatypes.JSON  `gorm:"column:scores;type:jsonb" json:"scores"`
	Suggestions pq.StringArray  `gorm:"column:suggestions;type:text[]" json:"suggestions"`
	Timestamp   time.Time       `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
}

func (TurnLog) TableName() string { return "turn_logs" }
