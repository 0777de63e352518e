// Package resolver turns (persona, query) into a ready-to-send model
// prompt. It looks the persona up, restricts retrieval to the persona's
// library scope, and assembles the final prompt in a fixed order so that
// identical history and query always produce an identical prompt.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/library"
	"github.com/whetstone-ai/whetstone/registry"
	"github.com/whetstone-ai/whetstone/types"
)

// PersonaSource is the registry surface the resolver reads.
type PersonaSource interface {
	Get(name string) (registry.Persona, error)
}

// Searcher is the document-index surface the resolver consumes. Ranking
// is the searcher's concern; the resolver only relies on descending
// relevance order.
type Searcher interface {
	Search(ctx context.Context, filter []string, query string, k int) ([]library.Passage, error)
}

// Modes are the session-level switches that alter prompt phrasing.
type Modes struct {
	// Deep asks for a thorough exploration instead of the concise default.
	Deep bool
	// Clarity asks for plain language without jargon.
	Clarity bool
}

// Resolved is the output of persona/context resolution.
type Resolved struct {
	Persona      registry.Persona
	SystemPrompt string
	Passages     []library.Passage
}

// Config tunes the resolver.
type Config struct {
	// TopK passages retrieved per query. Zero uses library.DefaultTopK.
	TopK int `yaml:"top_k"`
	// ContextBudget caps the token count of the retrieved-context block.
	// Zero disables budgeting.
	ContextBudget int `yaml:"context_budget"`
	// Observe, when set, receives retrieval timings and result counts.
	Observe func(duration time.Duration, passages int) `yaml:"-"`
}

// Resolver resolves persona context. It has no side effects: output is a
// pure function of registry state and index contents at call time.
type Resolver struct {
	personas PersonaSource
	searcher Searcher
	counter  TokenCounter
	cfg      Config
	logger   *zap.Logger
}

// New creates a resolver. counter may be nil, which disables budgeting.
func New(personas PersonaSource, searcher Searcher, counter TokenCounter, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = EstimatorCounter{}
	}
	return &Resolver{
		personas: personas,
		searcher: searcher,
		counter:  counter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "context_resolver")),
	}
}

// Resolve looks up the persona and retrieves its scoped passages.
// Fails with UNKNOWN_PERSONA when the persona is absent.
func (r *Resolver) Resolve(ctx context.Context, personaName, query string) (*Resolved, error) {
	persona, err := r.personas.Get(personaName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	passages, err := r.searcher.Search(ctx, persona.LibraryFilter, query, r.cfg.TopK)
	if err != nil {
		return nil, err
	}
	if r.cfg.Observe != nil {
		r.cfg.Observe(time.Since(start), len(passages))
	}
	passages = r.applyBudget(passages)

	r.logger.Debug("context resolved",
		zap.String("persona", persona.Name),
		zap.Int("passages", len(passages)))

	return &Resolved{
		Persona:      persona,
		SystemPrompt: persona.SystemPrompt(),
		Passages:     passages,
	}, nil
}

// applyBudget drops trailing (least relevant) passages once the
// retrieved-context block exceeds the configured token budget.
func (r *Resolver) applyBudget(passages []library.Passage) []library.Passage {
	if r.cfg.ContextBudget <= 0 {
		return passages
	}
	used := 0
	for i, p := range passages {
		used += r.counter.CountTokens(p.Snippet)
		if used > r.cfg.ContextBudget {
			r.logger.Debug("context budget reached",
				zap.Int("kept", i), zap.Int("dropped", len(passages)-i))
			return passages[:i]
		}
	}
	return passages
}

// ChatPrompt assembles the final prompt for a conversation turn. The
// order is fixed: system prompt, retrieved context, conversation history,
// then the new query. Reordering would break output determinism.
func ChatPrompt(res *Resolved, history []types.Turn, query string, modes Modes) string {
	var sb strings.Builder
	sb.WriteString(res.SystemPrompt)

	if len(res.Passages) > 0 {
		sb.WriteString("\n\nHere is some context from your library that may be relevant to the user's query:\n---\n")
		for i, p := range res.Passages {
			if i > 0 {
				sb.WriteString("\n\n---\n\n")
			}
			sb.WriteString(fmt.Sprintf("Reference from '%s':\n%s...", p.Source, p.Snippet))
		}
		sb.WriteString("\n---\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nThe conversation so far:\n")
		for _, turn := range history {
			switch turn.Role {
			case types.RoleUser:
				sb.WriteString("User: ")
			case types.RoleAssistant:
				sb.WriteString("AI Philosopher: ")
			}
			sb.WriteString(turn.Content)
			sb.WriteString("\n")
		}
	}

	if len(res.Passages) > 0 {
		sb.WriteString("\nNow, carefully consider the user's question and respond in character, grounding your response in the provided texts.")
	} else {
		sb.WriteString("\nCarefully consider the user's question and respond in character.")
	}
	sb.WriteString(lengthInstruction(modes))
	if modes.Clarity {
		sb.WriteString("\n\nUse plain, accessible language. Avoid technical jargon and explain ideas so a newcomer can follow.")
	}
	sb.WriteString(fmt.Sprintf("\nUser's Question: %s\nAI Philosopher:", query))
	return sb.String()
}

func lengthInstruction(modes Modes) string {
	if modes.Deep {
		return "\n\nProvide a thoughtful, thorough response. Take your time to explore the question deeply."
	}
	return "\n\nIMPORTANT: Keep your response concise - 2-3 sentences maximum. Be direct and insightful, not exhaustive."
}

// DebatePrompt assembles the prompt for one Symposium turn. The full
// transcript is replayed speaker-labeled; the topic seeds turn one. A
// pending interjection, when present, is addressed to the speaker as the
// moderator's words.
func DebatePrompt(speaker, opponent registry.Persona, topic string, transcript []types.DebateTurn, interjection string) string {
	var sb strings.Builder
	sb.WriteString(speaker.SystemPrompt())
	sb.WriteString(fmt.Sprintf("\n\nYou are currently in a debate (The Symposium).\nYour opponent is: %s.\nThe topic is: %q.\n\n", opponent.Name, topic))

	if len(transcript) == 0 {
		sb.WriteString("You are making the opening statement on this topic. State your position clearly and provocatively.")
	} else {
		sb.WriteString("The debate so far:\n---\n")
		for _, turn := range transcript {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Speaker, turn.Text))
		}
		sb.WriteString("---\n\n")
		sb.WriteString("Respond to your opponent's points directly. Challenge their assumptions. Use your specific philosophical framework to deconstruct their argument.\nKeep your response concise (2-4 sentences) but dense with insight. Do not be polite; be dialectical.")
	}

	if interjection != "" {
		sb.WriteString(fmt.Sprintf("\n\nThe moderator has interjected: %q\nAddress the moderator's point in your response.", interjection))
	}

	sb.WriteString(fmt.Sprintf("\n\n%s:", speaker.Name))
	return sb.String()
}
