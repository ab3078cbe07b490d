package constant

// Chat message roles persisted in the transcript.
const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleSystem    = "system"
)

// Session origins.
const (
	SessionOriginWeb    = "web"
	SessionOriginNative = "native" // created from the messaging platform itself
)

// Session statuses.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// DefaultTemperature applies when a session is started without parameters.
const DefaultTemperature = 0.7

// DefaultSessionTitle until the first prompt names the session.
const DefaultSessionTitle = "Unnamed session"
