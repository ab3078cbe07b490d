package mapper

import (
	"encoding/json"
	"time"

	"ai-relay-be/internal/constant"
	"ai-relay-be/internal/entity"
	"ai-relay-be/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// sessionParams is the JSONB layout of a session's generation parameters.
type sessionParams struct {
	Temperature  float64 `json:"temperature"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

func paramsToJSON(s *entity.ChatSession) datatypes.JSON {
	raw, err := json.Marshal(sessionParams{
		Temperature:  s.Temperature,
		SystemPrompt: s.SystemPrompt,
	})
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func paramsFromJSON(raw datatypes.JSON) sessionParams {
	params := sessionParams{Temperature: constant.DefaultTemperature}
	if len(raw) == 0 {
		return params
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return sessionParams{Temperature: constant.DefaultTemperature}
	}
	return params
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt *time.Time
	if s.DeletedAt.Valid {
		t := s.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	params := paramsFromJSON(s.Params)

	return &entity.ChatSession{
		Id:            s.Id,
		OwnerId:       s.OwnerId,
		Origin:        s.Origin,
		ChannelHandle: s.ChannelHandle,
		Status:        s.Status,
		Degraded:      s.Degraded,
		Title:         s.Title,
		Temperature:   params.Temperature,
		SystemPrompt:  params.SystemPrompt,
		CreatedAt:     s.CreatedAt,
		EndedAt:       s.EndedAt,
		UpdatedAt:     updatedAt,
		DeletedAt:     deletedAt,
		IsDeleted:     s.DeletedAt.Valid,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if s.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *s.DeletedAt, Valid: true}
	} else if s.IsDeleted {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	return &model.ChatSession{
		Id:            s.Id,
		OwnerId:       s.OwnerId,
		Origin:        s.Origin,
		ChannelHandle: s.ChannelHandle,
		Status:        s.Status,
		Degraded:      s.Degraded,
		Title:         s.Title,
		Params:        paramsToJSON(s),
		CreatedAt:     s.CreatedAt,
		EndedAt:       s.EndedAt,
		UpdatedAt:     updatedAt,
		DeletedAt:     deletedAt,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(msg *model.ChatMessage) *entity.ChatMessage {
	if msg == nil {
		return nil
	}

	var deletedAt *time.Time
	if msg.DeletedAt.Valid {
		t := msg.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !msg.UpdatedAt.IsZero() {
		t := msg.UpdatedAt
		updatedAt = &t
	}

	return &entity.ChatMessage{
		Id:            msg.Id,
		ChatSessionId: msg.ChatSessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		RequestId:     msg.RequestId,
		Fallback:      msg.Fallback,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     updatedAt,
		DeletedAt:     deletedAt,
		IsDeleted:     msg.DeletedAt.Valid,
	}
}

func (m *ChatMapper) ChatMessageToModel(msg *entity.ChatMessage) *model.ChatMessage {
	if msg == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if msg.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *msg.DeletedAt, Valid: true}
	} else if msg.IsDeleted {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	var updatedAt time.Time
	if msg.UpdatedAt != nil {
		updatedAt = *msg.UpdatedAt
	}

	return &model.ChatMessage{
		Id:            msg.Id,
		ChatSessionId: msg.ChatSessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		RequestId:     msg.RequestId,
		Fallback:      msg.Fallback,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     updatedAt,
		DeletedAt:     deletedAt,
	}
}
