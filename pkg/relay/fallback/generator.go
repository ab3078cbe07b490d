package fallback

import (
	"fmt"
	"math/rand"
	"strings"
)

// Generator types recognized by configuration.
const (
	TypeMarkov = "markov"
	TypeEcho   = "echo"
)

const maxGeneratedWords = 60

// SessionContext is the locally available state a generator may use. There
// is no round-trip dependency: everything here is already in memory when
// the deadline fires.
type SessionContext struct {
	SessionId  string
	LastPrompt string
	// Transcript holds recent plaintext lines from the session, newest last.
	Transcript []string
}

// Generator produces a locally computed substitute response when no
// correlated response arrives before the deadline. Marking the session
// degraded is the orchestrator's job, not the generator's.
type Generator interface {
	Generate(sc SessionContext) string
}

// New returns the generator for the configured fallback type, defaulting
// to markov for unknown values.
func New(fallbackType string) Generator {
	switch fallbackType {
	case TypeEcho:
		return &echoGenerator{}
	default:
		return &markovGenerator{}
	}
}

// echoGenerator restates the prompt. Deterministic, useful as a debugging
// stand-in and in tests.
type echoGenerator struct{}

func (g *echoGenerator) Generate(sc SessionContext) string {
	prompt := strings.TrimSpace(sc.LastPrompt)
	if prompt == "" {
		return "The assistant is temporarily unreachable. Please try again shortly."
	}
	return fmt.Sprintf("The assistant is temporarily unreachable, so here is an automatic reply. You asked: %q. Please try again shortly for a full answer.", prompt)
}

// markovGenerator builds an order-1 word chain over the session transcript
// plus the last prompt and walks it. With a thin corpus it degrades into
// near-echo output, which is acceptable for a stopgap reply.
type markovGenerator struct{}

func (g *markovGenerator) Generate(sc SessionContext) string {
	corpus := strings.Join(append(append([]string{}, sc.Transcript...), sc.LastPrompt), " ")
	words := strings.Fields(corpus)
	if len(words) < 2 {
		return (&echoGenerator{}).Generate(sc)
	}

	chain := make(map[string][]string, len(words))
	for i := 0; i < len(words)-1; i++ {
		chain[words[i]] = append(chain[words[i]], words[i+1])
	}

	// Seed from the transcript so the same stuck session produces stable
	// filler instead of fresh nonsense on every retry.
	rng := rand.New(rand.NewSource(int64(len(corpus))))

	current := words[rng.Intn(len(words))]
	out := []string{current}
	for len(out) < maxGeneratedWords {
		next, ok := chain[current]
		if !ok || len(next) == 0 {
			break
		}
		current = next[rng.Intn(len(next))]
		out = append(out, current)
	}

	return "(automatic reply) " + strings.Join(out, " ")
}
