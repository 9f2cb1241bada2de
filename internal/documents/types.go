// Package documents holds the freight document vocabulary shared by the
// extraction pipeline, the extractors and the HTTP layer: document types,
// the upload file policy, extraction profiles and the error taxonomy.
package documents

import (
	"path/filepath"
	"strings"
)

// Type is the declared kind of a trade document.
type Type string

const (
	TypeInvoice             Type = "invoice"
	TypePackingList         Type = "packing_list"
	TypeCommercialInvoice   Type = "commercial_invoice"
	TypeCertificateOfOrigin Type = "certificate_of_origin"
	TypeBillOfLading        Type = "bill_of_lading"
	TypeHouseBL             Type = "house_bl"
	TypeMasterBL            Type = "master_bl"
	TypeTelexRelease        Type = "telex_release"
	TypeOther               Type = "other"
)

// DefaultType is used when an upload declares no type or an unknown one.
const DefaultType = TypeInvoice

var knownTypes = map[Type]struct{}{
	TypeInvoice:             {},
	TypePackingList:         {},
	TypeCommercialInvoice:   {},
	TypeCertificateOfOrigin: {},
	TypeBillOfLading:        {},
	TypeHouseBL:             {},
	TypeMasterBL:            {},
	TypeTelexRelease:        {},
	TypeOther:               {},
}

// ParseType returns the Type for s, falling back to DefaultType for
// empty or unknown values.
func ParseType(s string) Type {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return DefaultType
}

// Valid reports whether t is one of the known document types.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// AllowedExtensions are the file extensions accepted for upload.
var AllowedExtensions = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
}

var allowedMIMETypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/jpg":       {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Extension returns the normalized extension of a file name.
func Extension(fileName string) string {
	return NormalizeExt(filepath.Ext(fileName))
}

// MIMETypeFor returns the canonical MIME type for a file name, or
// application/octet-stream when the extension is not allowed.
func MIMETypeFor(fileName string) string {
	if m, ok := AllowedExtensions[Extension(fileName)]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsPDF reports whether the file is a PDF by MIME type or extension.
func IsPDF(fileName, mimeType string) bool {
	return mimeType == "application/pdf" || Extension(fileName) == "pdf"
}

// ValidateUpload checks an upload against the file policy and returns every
// violation at once, or nil.
func ValidateUpload(fileName, mimeType string, size int) error {
	var ve ValidationError
	if size == 0 {
		ve.Add("file", "file is empty")
	}
	switch {
	case strings.TrimSpace(fileName) == "":
		ve.Add("file_name", "file name is required")
	default:
		if _, ok := AllowedExtensions[Extension(fileName)]; !ok {
			ve.Add("file_name", "invalid file type, allowed: PDF, JPEG, PNG")
		}
	}
	mimeType = baseMIMEType(mimeType)
	if mimeType != "" && mimeType != "application/octet-stream" {
		if _, ok := allowedMIMETypes[mimeType]; !ok {
			ve.Add("mime_type", "unsupported content type "+mimeType)
		}
	}
	if len(ve.Fields) == 0 {
		return nil
	}
	return &ve
}

// SanitizeFileName strips directories and characters that are unsafe in
// object keys, keeping letters, digits, dot, dash and underscore.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}

func baseMIMEType(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
