package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/ollama"
)

// maxPromptText bounds the PDF text sent to a local model.
const maxPromptText = 24000

// OllamaChatter is the interface for chat completion via Ollama.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, format any) (string, error)
}

// Ollama extracts with a local model. Images are passed to a vision model
// directly; PDFs are reduced to their text layer first.
type Ollama struct {
	client OllamaChatter
	model  string
	logger *slog.Logger
}

// NewOllama creates an extractor using the given Ollama client and model name.
func NewOllama(client OllamaChatter, model string) *Ollama {
	return &Ollama{client: client, model: model, logger: slog.Default()}
}

func (o *Ollama) Extract(ctx context.Context, data []byte, req Request) (Result, error) {
	profile := documents.ProfileFor(req.DocType)
	msg := ollama.Message{Role: "user", Content: profile.Prompt()}

	if documents.IsPDF(req.FileName, req.MIMEType) {
		text, err := pdfText(data)
		if err != nil {
			return Result{}, err
		}
		if len(text) > maxPromptText {
			text = text[:maxPromptText]
		}
		msg.Content += "\n\nDocument text:\n" + text
	} else {
		msg.Images = []string{base64.StdEncoding.EncodeToString(data)}
	}

	raw, err := o.client.Chat(ctx, o.model, []ollama.Message{msg}, profile.Schema())
	if err != nil {
		return Result{}, fmt.Errorf("ollama chat: %w", err)
	}

	fields, err := parseObject(raw)
	if err != nil {
		o.logger.Warn("unparseable extraction response", "model", o.model, "error", err)
		return Result{}, err
	}
	if err := ValidateFields(req.DocType, fields); err != nil {
		return Result{}, err
	}
	return score(fields, req.DocType, MethodLocal, o.model), nil
}
