package dto

import (
	"time"

	"github.com/google/uuid"

	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/metrics"
)

type TransferSessionRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
	NewOwnerId    uuid.UUID `json:"new_owner_id" validate:"required"`
}

type SetIntakeRequest struct {
	Enabled bool `json:"enabled"`
}

type IntakeStatusResponse struct {
	Enabled bool `json:"enabled"`
}

// RelayMetricsResponse combines worker health with relay-side correlation
// counters on the administrative metrics surface.
type RelayMetricsResponse struct {
	Workers     []metrics.WorkerStatus `json:"workers"`
	ReportsSeen uint64                 `json:"reports_seen"`
	Correlation correlator.Stats       `json:"correlation"`
	TakenAt     time.Time              `json:"taken_at"`
}

type BackupSessionRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
}

type BackupSessionResponse struct {
	ChatSessionId uuid.UUID `json:"chat_session_id"`
	File          string    `json:"file"`
	Messages      int       `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReapIdleResponse struct {
	Reaped int `json:"reaped"`
}
