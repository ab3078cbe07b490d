package store

// RuntimeSession is the active session state kept in memory beside the
// persisted record: the bound channel, the in-flight request guard and the
// recent transcript the fallback generator feeds on.
type RuntimeSession struct {
	ID            string `json:"id"` // ChatSessionID
	OwnerID       string `json:"owner_id"`
	ChannelHandle string `json:"channel_handle"`

	// InFlightRequestId enforces the default at-most-one-in-flight policy.
	// Empty when the session is idle.
	InFlightRequestId string `json:"in_flight_request_id"`

	// Degraded mirrors the persisted flag so the hot path can read it
	// without a database round trip.
	Degraded bool `json:"degraded"`

	LastPrompt string `json:"last_prompt"`

	// Transcript keeps the most recent plaintext lines, newest last.
	Transcript []string `json:"transcript"`
}

// TranscriptCapacity bounds the in-memory transcript per session.
const TranscriptCapacity = 20

// AppendTranscript records a line, dropping the oldest beyond capacity.
func (s *RuntimeSession) AppendTranscript(line string) {
	s.Transcript = append(s.Transcript, line)
	if len(s.Transcript) > TranscriptCapacity {
		s.Transcript = s.Transcript[len(s.Transcript)-TranscriptCapacity:]
	}
}
