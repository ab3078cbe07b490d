package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatSession struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerId       uuid.UUID `gorm:"type:uuid;not null;index"` // Owner identity for data isolation
	Origin        string    `gorm:"type:text;not null"`
	ChannelHandle string    `gorm:"type:text;not null;uniqueIndex"` // Never reused across sessions
	Status        string    `gorm:"type:text;not null;index"`
	Degraded      bool      `gorm:"not null;default:false"`
	Title         string    `gorm:"type:text;not null"`
	// Params holds the client-tunable generation parameters as one JSONB
	// document, so adding a knob doesn't need a schema migration.
	Params    datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	EndedAt   *time.Time
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}
