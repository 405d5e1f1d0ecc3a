package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Lesson struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"module_id"`
	Title     string         `gorm:"not null" json:"title"`
	Content   string         `gorm:"type:text" json:"content"`
	Position  int            `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Lesson) TableName() string { return "lesson" }

// LessonChunk is one embedding-sized slice of a lesson. Embedding is null
// until the chunk has been embedded; it holds a JSON array of 384 floats.
type LessonChunk struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LessonID   uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_lesson_chunk_position" json:"lesson_id"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	ChunkIndex int            `gorm:"not null;uniqueIndex:idx_lesson_chunk_position" json:"chunk_index"`
	Embedding  datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (LessonChunk) TableName() string { return "lesson_chunk" }
