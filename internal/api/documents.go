package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/ingest"
)

const (
	maxUploadSize       = 25 << 20
	maxUploadBodySize   = maxUploadSize + 1<<20 // file plus multipart framing
	maxMultipartMemory  = 8 << 20
	maxAutofillBodySize = 64 << 10
)

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := caller(r, auth.Role.CanUpload)
		if err != nil {
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, r, invalidInput("file", "file exceeds %d MB limit", maxUploadSize>>20))
				return
			}
			writeError(w, r, invalidInput("file", "expected multipart/form-data body: %v", err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, invalidInput("file", "file is required"))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
		if err != nil {
			writeError(w, r, invalidInput("file", "reading upload: %v", err))
			return
		}
		if len(data) > maxUploadSize {
			writeError(w, r, invalidInput("file", "file exceeds %d MB limit", maxUploadSize>>20))
			return
		}

		doc, err := deps.Pipeline.Submit(r.Context(), ingest.Upload{
			ShipmentID:   chi.URLParam(r, "id"),
			UploaderID:   c.UserID,
			FileName:     header.Filename,
			MIMEType:     header.Header.Get("Content-Type"),
			DeclaredType: r.FormValue("document_type"),
			Data:         data,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Pipeline.ListDocuments(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Pipeline.GetDocument(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Pipeline.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := deps.Pipeline.DownloadURL(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

type autofillRequest struct {
	ShipmentID string   `json:"shipment_id"`
	Fields     []string `json:"fields"`
}

func handleAutofill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := caller(r, auth.Role.CanEditShipments); err != nil {
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxAutofillBodySize)
		defer r.Body.Close()

		var req autofillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, invalidInput("body", "invalid request body: %v", err))
			return
		}

		res, err := deps.Merger.Apply(r.Context(), chi.URLParam(r, "id"), req.ShipmentID, req.Fields)
		if err != nil {
			writeError(w, r, fmt.Errorf("autofill: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
