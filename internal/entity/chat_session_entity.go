package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatSession struct {
	Id            uuid.UUID
	OwnerId       uuid.UUID
	Origin        string
	ChannelHandle string
	Status        string
	Degraded      bool
	Title         string
	Temperature   float64
	SystemPrompt  *string
	CreatedAt     time.Time
	EndedAt       *time.Time
	UpdatedAt     *time.Time
	DeletedAt     *time.Time
	IsDeleted     bool
}
