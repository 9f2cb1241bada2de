package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/proxy"
)

// Completer is the narrow view of the OpenRouter client used here.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (string, error)
}

// OpenRouter sends the document to a hosted vision model. Images go as
// image_url parts and PDFs as file parts, both base64 data URLs.
type OpenRouter struct {
	client Completer
	model  string
	logger *slog.Logger
}

// NewOpenRouter creates an extractor using the given client and model name.
func NewOpenRouter(client Completer, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model, logger: slog.Default()}
}

func (o *OpenRouter) Extract(ctx context.Context, data []byte, req Request) (Result, error) {
	mimeType := req.MIMEType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = documents.MIMETypeFor(req.FileName)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	var attachment proxy.ContentPart
	if documents.IsPDF(req.FileName, mimeType) {
		attachment = proxy.FileAttachment(req.FileName, dataURL)
	} else {
		attachment = proxy.ImagePart(dataURL)
	}

	temp := 0.0
	chat := proxy.ChatRequest{
		Model: o.model,
		Messages: []proxy.ChatMessage{{
			Role: "user",
			Content: []proxy.ContentPart{
				proxy.TextPart(documents.ProfileFor(req.DocType).Prompt()),
				attachment,
			},
		}},
		Temperature:    &temp,
		ResponseFormat: &proxy.ResponseFormat{Type: "json_object"},
	}

	raw, err := o.client.Complete(ctx, chat)
	if err != nil {
		return Result{}, fmt.Errorf("openrouter completion: %w", err)
	}

	fields, err := parseObject(raw)
	if err != nil {
		o.logger.Warn("unparseable extraction response", "model", o.model, "error", err)
		return Result{}, err
	}
	if err := ValidateFields(req.DocType, fields); err != nil {
		return Result{}, err
	}
	return score(fields, req.DocType, MethodVision, o.model), nil
}
