package documents

import (
	"fmt"
	"strings"
)

// Profile describes how to extract one document type: what to ask the
// model, which fields identify the document and the shape of the answer.
type Profile struct {
	Type      Type
	Fields    []FieldSpec
	KeyFields []string
	Notes     string
}

// FieldSpec is one expected output field.
type FieldSpec struct {
	Name        string
	Kind        FieldKind
	Description string
}

// FieldKind is the JSON shape of an expected field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindArray  FieldKind = "array"
)

const basePrompt = "Extract structured data from this %s document. " +
	"Return ONLY one valid JSON object, no prose and no markdown. " +
	"Include every field you can find; omit fields that are not present."

const numberRules = "Numbers must not contain currency symbols or thousands separators. " +
	"Dates must use YYYY-MM-DD."

var lineItemFields = "array of objects with description, quantity, unit_price, total, weight_kg, volume_cbm, hs_code"

var profiles = map[Type]Profile{
	TypeInvoice: {
		Type: TypeInvoice,
		Fields: []FieldSpec{
			{"invoice_number", KindString, "invoice number"},
			{"date", KindString, "invoice date"},
			{"amount", KindNumber, "total gross amount"},
			{"net_amount", KindNumber, "total before tax"},
			{"tax_amount", KindNumber, "total tax, VAT or GST"},
			{"currency", KindString, "ISO currency code, inferred from the symbol if needed"},
			{"seller_name", KindString, "seller or vendor company"},
			{"buyer_name", KindString, "buyer or customer company"},
			{"payment_terms", KindString, "payment terms"},
			{"due_date", KindString, "due date"},
			{"po_number", KindString, "purchase order number"},
			{"description", KindString, "one line summary of the goods"},
			{"hs_code", KindString, "HS/HSN code if a single one applies"},
			{"items", KindArray, lineItemFields},
		},
		KeyFields: DefaultKeyFields,
		Notes:     "Map currency symbols to codes: $ is USD, € is EUR, ₹ is INR.",
	},
	TypeCommercialInvoice: {
		Type: TypeCommercialInvoice,
		Fields: []FieldSpec{
			{"invoice_number", KindString, "invoice number"},
			{"date", KindString, "invoice date"},
			{"amount", KindNumber, "total amount"},
			{"currency", KindString, "ISO currency code"},
			{"exporter", KindString, "exporter name"},
			{"importer", KindString, "importer name"},
			{"incoterm", KindString, "incoterm such as FOB or CIF"},
			{"description", KindString, "goods description"},
			{"hs_code", KindString, "HS code"},
			{"gross_weight", KindNumber, "gross weight in kg"},
			{"net_weight", KindNumber, "net weight in kg"},
			{"items", KindArray, lineItemFields},
		},
		KeyFields: DefaultKeyFields,
	},
	TypePackingList: {
		Type: TypePackingList,
		Fields: []FieldSpec{
			{"packing_list_number", KindString, "packing list number"},
			{"date", KindString, "issue date"},
			{"total_packages", KindNumber, "number of packages"},
			{"total_weight_kg", KindNumber, "total gross weight in kg"},
			{"net_weight", KindNumber, "total net weight in kg"},
			{"total_volume", KindNumber, "total volume in cubic metres"},
			{"description", KindString, "goods description"},
			{"hs_code", KindString, "HS code"},
			{"items", KindArray, lineItemFields},
		},
		KeyFields: []string{"packing_list_number", "date", "total_packages"},
	},
	TypeCertificateOfOrigin: {
		Type: TypeCertificateOfOrigin,
		Fields: []FieldSpec{
			{"certificate_number", KindString, "certificate number"},
			{"date", KindString, "issue date"},
			{"exporter", KindString, "exporter name"},
			{"importer", KindString, "importer name"},
			{"origin_country", KindString, "country of origin"},
			{"description", KindString, "goods description"},
			{"hs_code", KindString, "HS code"},
		},
		KeyFields: []string{"certificate_number", "date", "origin_country"},
	},
	TypeBillOfLading: {
		Type: TypeBillOfLading,
		Fields: []FieldSpec{
			{"bl_number", KindString, "bill of lading number"},
			{"date", KindString, "date of issue or shipped on board"},
			{"shipper", KindString, "shipper"},
			{"consignee", KindString, "consignee"},
			{"notify_party", KindString, "notify party"},
			{"vessel_name", KindString, "vessel name"},
			{"voyage_number", KindString, "voyage number"},
			{"port_of_loading", KindString, "port of loading"},
			{"port_of_discharge", KindString, "port of discharge"},
			{"container_numbers", KindArray, "container numbers"},
			{"packages", KindNumber, "number of packages"},
			{"weight_kg", KindNumber, "gross weight in kg"},
			{"volume_cbm", KindNumber, "volume in cubic metres"},
			{"description", KindString, "goods description"},
		},
		KeyFields: []string{"bl_number", "date", "consignee"},
	},
}

func init() {
	// House and master bills share the bill of lading layout.
	for _, t := range []Type{TypeHouseBL, TypeMasterBL} {
		p := profiles[TypeBillOfLading]
		p.Type = t
		profiles[t] = p
	}
}

// ProfileFor returns the extraction profile of a document type. Types
// without a dedicated profile get a generic one keyed on the default fields.
func ProfileFor(t Type) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return Profile{
		Type: t,
		Fields: []FieldSpec{
			{"invoice_number", KindString, "document or reference number"},
			{"date", KindString, "document date"},
			{"amount", KindNumber, "total monetary amount, if any"},
			{"description", KindString, "goods description"},
		},
		KeyFields: DefaultKeyFields,
	}
}

// Prompt renders the instruction text sent to a model.
func (p Profile) Prompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, strings.ReplaceAll(string(p.Type), "_", " "))
	sb.WriteString("\n\nFields:\n")
	for _, f := range p.Fields {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Name, f.Kind, f.Description)
	}
	sb.WriteString("\n")
	sb.WriteString(numberRules)
	if p.Notes != "" {
		sb.WriteString("\n")
		sb.WriteString(p.Notes)
	}
	return sb.String()
}

// Schema returns a JSON schema for the profile's output. Every field is
// optional; numbers may arrive as strings and are accepted as such.
func (p Profile) Schema() map[string]any {
	props := make(map[string]any, len(p.Fields))
	for _, f := range p.Fields {
		var prop map[string]any
		switch f.Kind {
		case KindNumber:
			prop = map[string]any{"type": []any{"number", "string", "null"}}
		case KindArray:
			prop = map[string]any{"type": []any{"array", "null"}}
		default:
			prop = map[string]any{"type": []any{"string", "number", "null"}}
		}
		prop["description"] = f.Description
		props[f.Name] = prop
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}
