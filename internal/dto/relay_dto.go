package dto

import (
	"time"

	"github.com/google/uuid"
)

type StartSessionRequest struct {
	Origin       string   `json:"origin" validate:"omitempty,oneof=web native"`
	Title        string   `json:"title" validate:"max=120"`
	Temperature  *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	SystemPrompt *string  `json:"system_prompt" validate:"omitempty,max=4000"`
}

type StartSessionResponse struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

type GetAllSessionsResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	Degraded  bool       `json:"degraded"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type GetChatHistoryResponse struct {
	Id        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}

type SendPromptRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
	Prompt        string    `json:"prompt" validate:"required,max=16000"`
}

type SendPromptResponseChat struct {
	Id        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}

type SendPromptResponse struct {
	ChatSessionId uuid.UUID               `json:"chat_session_id"`
	RequestId     string                  `json:"request_id"`
	Sent          *SendPromptResponseChat `json:"sent"`
	Reply         *SendPromptResponseChat `json:"reply"`
	// Degraded is true when Reply came from the local fallback generator.
	Degraded bool `json:"degraded"`
}

type UpdateSessionRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
	Title         *string   `json:"title" validate:"omitempty,max=120"`
	Temperature   *float64  `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	SystemPrompt  *string   `json:"system_prompt" validate:"omitempty,max=4000"`
}

type EndSessionRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
}
