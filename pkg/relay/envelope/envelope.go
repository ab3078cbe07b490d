package envelope

import (
	"encoding/json"
	"fmt"
)

// Direction marks which way an envelope travels over the transport.
// It is part of the cipher's associated data, so a ciphertext produced
// for one direction cannot be replayed into another.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionMetrics  Direction = "metrics"
	DirectionBackup   Direction = "backup"
)

// Envelope is the wire unit exchanged over the transport: an opaque
// ciphertext plus the minimum metadata needed to route it. The plaintext
// payload never appears at this layer.
type Envelope struct {
	RequestId string    `json:"request_id"`
	Direction Direction `json:"direction"`
	Payload   []byte    `json:"payload"` // nonce || ciphertext || tag
}

// AssociatedData returns the AEAD associated data binding this envelope's
// ciphertext to its correlation id and direction.
func (e *Envelope) AssociatedData() []byte {
	return AssociatedData(e.RequestId, e.Direction)
}

func AssociatedData(requestId string, direction Direction) []byte {
	return []byte(requestId + "|" + string(direction))
}

func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.RequestId == "" || e.Direction == "" {
		return nil, fmt.Errorf("envelope missing routing metadata")
	}
	return &e, nil
}

// GenerationParams are the per-session parameters forwarded to the worker.
type GenerationParams struct {
	Temperature  float64 `json:"temperature"`
	SystemPrompt *string `json:"system_prompt"`
}

// RequestPayload is the post-decryption plaintext of an outbound envelope.
type RequestPayload struct {
	RequestId  string           `json:"request_id"`
	SessionId  string           `json:"session_id"`
	Prompt     string           `json:"prompt"`
	Parameters GenerationParams `json:"parameters"`
}

// WorkerMetrics is the optional per-response metric block from the worker.
type WorkerMetrics struct {
	TokensPerSecond float64 `json:"tokens_per_second"`
	TotalTokens     int     `json:"total_tokens,omitempty"`
	ModelName       string  `json:"model_name,omitempty"`
}

// ResponsePayload is the post-decryption plaintext of an inbound envelope.
// Error carries a worker-side condition such as "overload"; ResponseText is
// empty in that case.
type ResponsePayload struct {
	RequestId    string         `json:"request_id"`
	ResponseText string         `json:"response_text"`
	Metrics      *WorkerMetrics `json:"metrics"`
	Error        string         `json:"error,omitempty"`
}

// Worker error codes recognized by the relay.
const (
	WorkerErrorOverload = "overload"
)

// MetricsPayload is a periodic worker-health report, delivered through the
// transport outside the request/response flow. The worker id rides in the
// envelope's correlation-id slot.
type MetricsPayload struct {
	WorkerId        string  `json:"worker_id"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	QueueDepth      int     `json:"queue_depth"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	ModelName       string  `json:"model_name,omitempty"`
}
