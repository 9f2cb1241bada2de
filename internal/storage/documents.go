package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const documentColumns = `id, shipment_id, uploaded_by, type, file_name, file_url, storage_key,
	file_size, mime_type, extracted_data, confidence_score, extraction_method, needs_review, created_at`

// CreateDocumentWithJob inserts a freshly uploaded document together with
// its pending extraction job. Either both rows exist afterwards or neither.
func (s *Store) CreateDocumentWithJob(ctx context.Context, doc Document, job ExtractionJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning document transaction: %w", err)
	}
	defer tx.Rollback()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, shipment_id, uploaded_by, type, file_name, file_url, storage_key,
			file_size, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ShipmentID, doc.UploadedBy, doc.Type, doc.FileName, doc.FileURL, doc.StorageKey,
		doc.FileSize, doc.MIMEType, formatTime(doc.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	job.DocumentID = doc.ID
	if err := insertExtractionJob(ctx, tx, job); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// ListDocumentsByShipment returns a shipment's documents, oldest first.
func (s *Store) ListDocumentsByShipment(ctx context.Context, shipmentID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE shipment_id = ? ORDER BY created_at ASC, rowid ASC`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row scanner) (Document, error) {
	var d Document
	var extracted, method sql.NullString
	var confidence sql.NullFloat64
	var needsReview sql.NullBool
	var createdAt string
	if err := row.Scan(&d.ID, &d.ShipmentID, &d.UploadedBy, &d.Type, &d.FileName, &d.FileURL,
		&d.StorageKey, &d.FileSize, &d.MIMEType, &extracted, &confidence, &method, &needsReview,
		&createdAt); err != nil {
		return Document{}, err
	}
	if extracted.Valid {
		if err := json.Unmarshal([]byte(extracted.String), &d.ExtractedData); err != nil {
			return Document{}, fmt.Errorf("decoding extracted_data for document %s: %w", d.ID, err)
		}
	}
	if confidence.Valid {
		d.ConfidenceScore = &confidence.Float64
	}
	if method.Valid {
		d.ExtractionMethod = &method.String
	}
	if needsReview.Valid {
		d.NeedsReview = &needsReview.Bool
	}
	var err error
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Document{}, err
	}
	return d, nil
}
