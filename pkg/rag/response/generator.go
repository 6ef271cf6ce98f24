package response

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/llm"
	"campus-qa-be/pkg/rag/decision"
	"campus-qa-be/pkg/rag/external"
	"campus-qa-be/pkg/rag/prompt"

	"github.com/cenkalti/backoff/v5"
)

// Method tells how the response text was produced
type Method string

const (
	MethodGenerated Method = "generated"
	MethodTemplate  Method = "template"
	MethodFallback  Method = "fallback"
)

const (
	defaultMaxTries        = 3
	defaultInitialInterval = 300 * time.Millisecond
	// anything shorter is treated as a failed generation
	minGeneratedRunes = 10
)

// Request is one decided query waiting for its answer text
type Request struct {
	Decision decision.Decision
	Prompt   prompt.Input
}

type Result struct {
	Text   string
	Method Method
}

// Generator turns decisions into answer text. Model failures never surface:
// every path ends in a template when generation gives up.
type Generator struct {
	llmProvider     llm.LLMProvider
	prompts         *prompt.Builder
	personal        external.Client
	maxTries        uint
	initialInterval time.Duration
	logger          logger.ILogger
}

func NewGenerator(provider llm.LLMProvider, prompts *prompt.Builder, personal external.Client, maxTries int, log logger.ILogger) *Generator {
	if maxTries <= 0 {
		maxTries = defaultMaxTries
	}
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	return &Generator{
		llmProvider:     provider,
		prompts:         prompts,
		personal:        personal,
		maxTries:        uint(maxTries),
		initialInterval: defaultInitialInterval,
		logger:          log,
	}
}

// Generate calls the model with bounded retries and returns "" when it gives up
func (g *Generator) Generate(ctx context.Context, promptText string, opts ...llm.Option) string {
	if g.llmProvider == nil {
		return ""
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.initialInterval

	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		out, err := g.llmProvider.Generate(ctx, promptText, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			g.logger.Warn("GENERATION", "LLM call failed", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return "", err
		}
		return out, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(g.maxTries))
	if err != nil {
		g.logger.Error("GENERATION", "Giving up on generation", map[string]interface{}{
			"attempts": attempt,
			"error":    err.Error(),
		})
		return ""
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minGeneratedRunes {
		g.logger.Warn("GENERATION", "Generated text too short, discarding", map[string]interface{}{"text": text})
		return ""
	}
	return text
}

// Respond produces the answer text for a decision
func (g *Generator) Respond(ctx context.Context, req Request) Result {
	in := req.Prompt
	address := in.Address
	if strings.TrimSpace(address) == "" {
		address = prompt.DefaultAddress
		in.Address = address
	}

	switch c := req.Decision.Context.(type) {
	case decision.DocumentContext:
		if text := g.Generate(ctx, g.prompts.Document(in, c.DocumentText), llm.WithTemperature(0.3)); text != "" {
			return Result{Text: text, Method: MethodGenerated}
		}
		return Result{Text: DocumentFallbackMessage(address), Method: MethodFallback}

	case decision.RejectionContext:
		return Result{Text: OutOfScopeMessage(address), Method: MethodTemplate}

	case decision.ExternalAPIContext:
		return g.personalData(ctx, in, c)

	case decision.AuthRequiredContext:
		return Result{Text: AuthRequiredMessage(address), Method: MethodTemplate}

	case decision.DontKnowContext:
		return Result{Text: DontKnowMessage(address, c.Query), Method: MethodTemplate}

	case decision.DirectAnswerContext:
		if text := g.Generate(ctx, g.prompts.KnowledgeAnswer(in, c.Answer, false), llm.WithTemperature(0.3)); text != "" {
			return Result{Text: text, Method: MethodGenerated}
		}
		if len(c.MismatchIssues) > 0 && !c.Preserved {
			return Result{Text: SmartClarificationMessage(address, c.MismatchIssues), Method: MethodFallback}
		}
		return Result{Text: KnowledgeFallback(address, c.Answer, c.Preserved), Method: MethodFallback}

	case decision.EnhanceContext:
		if text := g.Generate(ctx, g.prompts.KnowledgeAnswer(in, c.Answer, true), llm.WithTemperature(0.5)); text != "" {
			return Result{Text: text, Method: MethodGenerated}
		}
		return Result{Text: KnowledgeFallback(address, c.Answer, false), Method: MethodFallback}

	case decision.ClarificationContext:
		if c.Smart {
			return Result{Text: SmartClarificationMessage(address, c.MismatchIssues), Method: MethodTemplate}
		}
		return Result{Text: ClarificationMessage(address), Method: MethodTemplate}

	default:
		g.logger.Error("GENERATION", "No response strategy for decision", map[string]interface{}{
			"kind": string(req.Decision.Kind),
		})
		return Result{Text: TechnicalErrorMessage(address), Method: MethodFallback}
	}
}

// Social answers greetings in chat-only mode
func (g *Generator) Social(ctx context.Context, in prompt.Input) Result {
	address := in.Address
	if strings.TrimSpace(address) == "" {
		address = prompt.DefaultAddress
		in.Address = address
	}
	if text := g.Generate(ctx, g.prompts.SocialChat(in), llm.WithTemperature(0.7)); text != "" {
		return Result{Text: text, Method: MethodGenerated}
	}
	return Result{Text: SocialFallbackMessage(address), Method: MethodFallback}
}

func (g *Generator) personalData(ctx context.Context, in prompt.Input, c decision.ExternalAPIContext) Result {
	address := in.Address
	if g.personal == nil {
		return Result{Text: PersonalDataErrorMessage(address), Method: MethodFallback}
	}

	data, err := g.personal.Lookup(ctx, c.AuthToken, c.Query)
	if err != nil {
		g.logger.Warn("GENERATION", "Personal data lookup failed", map[string]interface{}{"error": err.Error()})
		switch {
		case errors.Is(err, external.ErrUnauthorized), errors.Is(err, external.ErrInvalidToken):
			return Result{Text: AuthRequiredMessage(address), Method: MethodFallback}
		case errors.Is(err, external.ErrNotConfigured) && strings.TrimSpace(c.FallbackAnswer) != "":
			return Result{Text: KnowledgeFallback(address, c.FallbackAnswer, false), Method: MethodFallback}
		default:
			return Result{Text: PersonalDataErrorMessage(address), Method: MethodFallback}
		}
	}

	text := g.Generate(ctx, g.prompts.PersonalData(in, data), llm.WithTemperature(0.2))
	if text == "" {
		return Result{Text: PersonalDataFallbackMessage(data), Method: MethodFallback}
	}
	return Result{Text: Personalize(text, prompt.LecturerAddress(data.Lecturer)), Method: MethodGenerated}
}
