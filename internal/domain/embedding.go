package domain

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// MarshalEmbedding encodes a vector for jsonb storage.
func MarshalEmbedding(vec []float32) (datatypes.JSON, error) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// ParseEmbedding decodes a stored jsonb vector. A null/empty column yields
// nil with no error.
func ParseEmbedding(raw datatypes.JSON) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// AllModels lists every persisted model for migrations.
func AllModels() []any {
	return []any{
		&User{},
		&Course{},
		&CourseModule{},
		&Lesson{},
		&LessonChunk{},
		&Enrollment{},
	}
}
