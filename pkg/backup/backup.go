package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ai-relay-be/internal/entity"
	"ai-relay-be/pkg/relay/cipher"
	"ai-relay-be/pkg/relay/envelope"
)

// Archive is the plaintext layout of one session dump before sealing.
type Archive struct {
	SessionId string    `json:"session_id"`
	OwnerId   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Degraded  bool      `json:"degraded"`
	DumpedAt  time.Time `json:"dumped_at"`
	Messages  []Message `json:"messages"`
}

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer dumps session transcripts to disk, sealed under the relay key so
// a stolen backup directory is as opaque as the wire traffic.
type Writer struct {
	dir string
	key []byte
}

func NewWriter(dir string, key []byte) *Writer {
	return &Writer{dir: dir, key: key}
}

// Dump seals the session transcript and writes it as one file, returning
// the file path. The associated data binds the blob to its session id, so
// archives cannot be swapped between sessions undetected.
func (w *Writer) Dump(session *entity.ChatSession, messages []*entity.ChatMessage) (string, error) {
	archive := Archive{
		SessionId: session.Id.String(),
		OwnerId:   session.OwnerId.String(),
		Title:     session.Title,
		Degraded:  session.Degraded,
		DumpedAt:  time.Now(),
	}
	for _, m := range messages {
		archive.Messages = append(archive.Messages, Message{
			Role:      m.Role,
			Content:   m.Content,
			Fallback:  m.Fallback,
			CreatedAt: m.CreatedAt,
		})
	}

	plaintext, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive: %w", err)
	}

	aad := envelope.AssociatedData(session.Id.String(), envelope.DirectionBackup)
	sealed, err := cipher.Seal(w.key, plaintext, aad)
	if err != nil {
		return "", fmt.Errorf("failed to seal archive: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	name := fmt.Sprintf("session-%s-%s.relay", session.Id, time.Now().Format("20060102-150405"))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}
	return path, nil
}

// Restore opens a sealed archive file back into its plaintext form.
func (w *Writer) Restore(path, sessionId string) (*Archive, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	aad := envelope.AssociatedData(sessionId, envelope.DirectionBackup)
	plaintext, err := cipher.Open(w.key, sealed, aad)
	if err != nil {
		return nil, err
	}

	var archive Archive
	if err := json.Unmarshal(plaintext, &archive); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive: %w", err)
	}
	return &archive, nil
}
