// Package extract turns the bytes of an uploaded trade document into a
// flat map of fields. Providers differ in where the model runs; all of
// them score their output with the document type's profile.
package extract

import (
	"context"

	"github.com/kalambet/freightdocs/internal/documents"
)

// Extraction methods recorded on documents.
const (
	MethodDisabled = "ai_disabled"
	MethodVision   = "ai_vision"
	MethodLocal    = "ai_local"
	MethodPDFText  = "pdf_text"
)

// Request describes the document being extracted.
type Request struct {
	DocType  documents.Type
	FileName string
	MIMEType string
}

// Result is an extractor's answer. Fields is nil or empty when nothing
// could be read from the document.
type Result struct {
	Fields     map[string]any
	Confidence float64
	Method     string
	Model      string
}

// Extractor reads structured fields out of a document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, req Request) (Result, error)
}

// Disabled is the extractor used when no provider is configured.
type Disabled struct{}

func (Disabled) Extract(context.Context, []byte, Request) (Result, error) {
	return Result{Method: MethodDisabled}, nil
}

// score fills in confidence using the type's key fields.
func score(fields map[string]any, docType documents.Type, method, model string) Result {
	if len(fields) == 0 {
		return Result{Method: method, Model: model}
	}
	p := documents.ProfileFor(docType)
	return Result{
		Fields:     fields,
		Confidence: documents.Confidence(fields, p.KeyFields),
		Method:     method,
		Model:      model,
	}
}
