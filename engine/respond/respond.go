// Package respond composes the user-facing reply from a retrieval result.
// Product hits are turned into context for the chat model; suggestion and
// no-match results use fixed templates so no model call is needed for them.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GuerraLaser/laserbot-mvp/engine/retrieve"
	"github.com/GuerraLaser/laserbot-mvp/pkg/ollama"
)

// Chatter abstracts the chat model client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, temperature float32) (string, error)
}

// Options configures reply composition.
type Options struct {
	Model        string
	Temperature  float32
	SystemPrompt string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Model:        "llama3.1:8b",
		Temperature:  0.7,
		SystemPrompt: defaultSystemPrompt,
	}
}

const defaultSystemPrompt = `Eres un vendedor de máquinas láser y refacciones en MercadoLibre México.
Responde amablemente usando SOLO los productos del contexto, incluyendo precio y enlace.
Si la pregunta es técnica o piden hablar con alguien, responde solo la palabra clave 'ESCALATE'.`

// escalationToken is the keyword the model emits when a human should take over.
const escalationToken = "ESCALATE"

const escalationMessage = "Gracias por tu consulta. Un representante se pondrá en contacto contigo pronto."

const noMatchMessage = "No encontré productos para tu consulta. Un representante se pondrá en contacto contigo pronto."

// ErrorMessage is the reply when the pipeline cannot process a message.
// The user always gets an answer, even when the model is down.
const ErrorMessage = "Lo siento, hubo un error al procesar tu mensaje."

// Reply is the composed outbound message.
type Reply struct {
	Text      string
	Escalated bool
}

// Composer builds replies from retrieval results.
type Composer struct {
	chat   Chatter
	opts   Options
	logger *slog.Logger
}

// New creates a Composer.
func New(chat Chatter, opts Options, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{chat: chat, opts: opts, logger: logger}
}

// Compose turns a retrieval result into the message to send back to the user.
// Suggestion and no-match results never reach the model, and a model failure
// degrades to ErrorMessage rather than leaving the message unanswered.
func (c *Composer) Compose(ctx context.Context, userText string, res *retrieve.Result) (*Reply, error) {
	switch res.Kind {
	case retrieve.KindSuggestions:
		return &Reply{Text: suggestionsText(res)}, nil
	case retrieve.KindNoMatch:
		return &Reply{Text: noMatchMessage, Escalated: true}, nil
	}

	messages := []ollama.Message{
		{Role: "system", Content: c.opts.SystemPrompt},
		{Role: "user", Content: buildUserPrompt(userText, res)},
	}

	answer, err := c.chat.Chat(ctx, c.opts.Model, messages, c.opts.Temperature)
	if err != nil {
		c.logger.Error("respond: chat failed, sending fallback", "err", err)
		return &Reply{Text: ErrorMessage}, nil
	}
	answer = strings.TrimSpace(answer)

	if strings.Contains(strings.ToUpper(answer), escalationToken) {
		c.logger.Info("respond: escalating to human", "user_text_len", len(userText))
		return &Reply{Text: escalationMessage, Escalated: true}, nil
	}
	return &Reply{Text: answer}, nil
}

// buildUserPrompt inlines the ranked product context with the user's question.
func buildUserPrompt(userText string, res *retrieve.Result) string {
	var b strings.Builder
	b.WriteString("Productos disponibles:\n")
	for _, h := range res.Hits {
		fmt.Fprintf(&b, "- %s", h.Entry.Title)
		if h.Entry.Price != "" {
			fmt.Fprintf(&b, " (%s)", h.Entry.Price)
		}
		if h.Entry.Link != "" {
			fmt.Fprintf(&b, " %s", h.Entry.Link)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPregunta del cliente: ")
	b.WriteString(userText)
	return b.String()
}

// suggestionsText renders the category-suggestion fallback without a model call.
func suggestionsText(res *retrieve.Result) string {
	var b strings.Builder
	b.WriteString("Por el momento te puedo sugerir estas categorías de productos:\n")
	for _, s := range res.Suggestions {
		fmt.Fprintf(&b, "- %s: %s\n", s.Category, s.Link)
	}
	b.WriteString("Si buscas algo más específico, escríbenos de nuevo en unos minutos.")
	return b.String()
}
