// Package autofill copies values from a document's extracted data onto
// its shipment, resolving shipment fields through a synonym table.
package autofill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/storage"
)

// Kind is the column type of a shipment field.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
)

// Rule maps one shipment field to the extracted keys that may hold it,
// in priority order.
type Rule struct {
	Field    string
	Kind     Kind
	Synonyms []string
}

// Rules is the synonym table. Order matters only within Synonyms.
var Rules = []Rule{
	{"gross_weight_kg", KindFloat, []string{"total_weight_kg", "gross_weight", "weight_kg"}},
	{"net_weight_kg", KindFloat, []string{"net_weight", "net_weight_kg"}},
	{"volume_cbm", KindFloat, []string{"volume_cbm", "volume", "total_volume"}},
	{"total_packages", KindInt, []string{"total_packages", "packages", "quantity"}},
	{"hs_code", KindString, []string{"hs_code", "hscode", "harmonized_code"}},
	{"goods_description", KindString, []string{"description", "goods_description", "item_description"}},
}

// DefaultFields are applied when a request names none.
func DefaultFields() []string {
	out := make([]string, len(Rules))
	for i, r := range Rules {
		out[i] = r.Field
	}
	return out
}

func ruleFor(field string) (Rule, bool) {
	for _, r := range Rules {
		if r.Field == field {
			return r, true
		}
	}
	return Rule{}, false
}

// Resolve returns the first present, non-empty synonym value for field.
func Resolve(data map[string]any, field string) (any, bool) {
	r, ok := ruleFor(field)
	if !ok {
		return nil, false
	}
	for _, key := range r.Synonyms {
		v, ok := data[key]
		if ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// ShipmentStore loads shipments and updates individual columns.
type ShipmentStore interface {
	GetShipment(ctx context.Context, id string) (storage.Shipment, error)
	UpdateShipmentFields(ctx context.Context, id string, fields map[string]any) error
}

// DocumentStore loads documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
}

// Result reports what Apply wrote.
type Result struct {
	DocumentID    string         `json:"document_id"`
	ShipmentID    string         `json:"shipment_id"`
	UpdatedFields []string       `json:"updated_fields"`
	Values        map[string]any `json:"extracted_values"`
	Confidence    *float64       `json:"confidence"`
}

// Merger applies extracted data to shipments.
type Merger struct {
	docs      DocumentStore
	shipments ShipmentStore
	logger    *slog.Logger
}

func NewMerger(docs DocumentStore, shipments ShipmentStore) *Merger {
	return &Merger{docs: docs, shipments: shipments, logger: slog.Default()}
}

// Apply copies the requested fields from the document's extracted data
// onto its shipment. shipmentID may be empty; when given it must be the
// document's shipment. Fields that cannot be resolved are left untouched.
func (m *Merger) Apply(ctx context.Context, documentID, shipmentID string, fields []string) (Result, error) {
	doc, err := m.docs.GetDocument(ctx, documentID)
	if err != nil {
		return Result{}, lookupErr(err, "document "+documentID)
	}
	if shipmentID != "" && shipmentID != doc.ShipmentID {
		return Result{}, fmt.Errorf("document %s on shipment %s: %w", documentID, shipmentID, documents.ErrNotFound)
	}
	if doc.ExtractedData == nil {
		return Result{}, fmt.Errorf("document %s has no extracted data yet: %w", documentID, documents.ErrPreconditionFailed)
	}

	sh, err := m.shipments.GetShipment(ctx, doc.ShipmentID)
	if err != nil {
		return Result{}, lookupErr(err, "shipment "+doc.ShipmentID)
	}

	if len(fields) == 0 {
		fields = DefaultFields()
	}

	res := Result{
		DocumentID:    doc.ID,
		ShipmentID:    sh.ID,
		UpdatedFields: []string{},
		Values:        map[string]any{},
		Confidence:    doc.ConfidenceScore,
	}
	for _, field := range fields {
		raw, ok := Resolve(doc.ExtractedData, field)
		if !ok {
			continue
		}
		v, ok := coerce(field, raw)
		if !ok {
			m.logger.Debug("autofill value not coercible", "field", field, "value", raw)
			continue
		}
		res.UpdatedFields = append(res.UpdatedFields, field)
		res.Values[field] = v
	}

	if len(res.UpdatedFields) == 0 {
		return res, nil
	}
	// Only the resolved columns are written.
	if err := m.shipments.UpdateShipmentFields(ctx, sh.ID, res.Values); err != nil {
		return Result{}, lookupErr(err, "saving shipment "+sh.ID)
	}
	m.logger.Info("shipment autofilled", "shipment_id", sh.ID, "document_id", doc.ID, "fields", res.UpdatedFields)
	return res, nil
}

// coerce converts raw to the column type of field.
func coerce(field string, raw any) (any, bool) {
	r, _ := ruleFor(field)
	switch r.Kind {
	case KindFloat:
		f, ok := toFloat(raw)
		if !ok {
			return nil, false
		}
		return f, true
	case KindInt:
		f, ok := toFloat(raw)
		if !ok || f != math.Trunc(f) {
			return nil, false
		}
		return int(f), true
	default:
		switch raw.(type) {
		case map[string]any, []any:
			return nil, false
		}
		return strings.TrimSpace(fmt.Sprint(raw)), true
	}
}

// toFloat accepts JSON numbers and numeric strings such as "1,250.5 kg".
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if i := strings.IndexFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		}); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, documents.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", what, documents.ErrUnavailable, err)
}
