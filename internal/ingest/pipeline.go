// Package ingest accepts uploaded trade documents and runs their
// extraction jobs in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/freightdocs/internal/blob"
	"github.com/kalambet/freightdocs/internal/documents"
	"github.com/kalambet/freightdocs/internal/extract"
	"github.com/kalambet/freightdocs/internal/storage"
)

const (
	defaultTimeout  = 60 * time.Second
	downloadExpiry  = 15 * time.Minute
	spoolFilePrefix = "spool-"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetShipment(ctx context.Context, id string) (storage.Shipment, error)
	CreateDocumentWithJob(ctx context.Context, doc storage.Document, job storage.ExtractionJob) error
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	ListDocumentsByShipment(ctx context.Context, shipmentID string) ([]storage.Document, error)
	GetJobByDocument(ctx context.Context, documentID string) (storage.ExtractionJob, error)
	ClaimNextExtractionJob(ctx context.Context) (*storage.ExtractionJob, error)
	CompleteExtraction(ctx context.Context, jobID string, out storage.ExtractionOutcome) error
	FailExtraction(ctx context.Context, jobID, errMsg, modelUsed string, processingTimeMs int64) error
}

// Upload is one file submitted for a shipment.
type Upload struct {
	ShipmentID   string
	UploaderID   string
	FileName     string
	MIMEType     string
	DeclaredType string
	Data         []byte
}

// Pipeline stores uploads and records extraction outcomes.
type Pipeline struct {
	store     Store
	blobs     blob.Store
	extractor extract.Extractor
	spoolDir  string
	timeout   time.Duration
	wake      chan struct{}
	logger    *slog.Logger
}

// New creates a Pipeline. Spool files are written under spoolDir (the
// system temp dir when empty); each extraction runs under timeout.
func New(store Store, blobs blob.Store, extractor extract.Extractor, spoolDir string, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if extractor == nil {
		extractor = extract.Disabled{}
	}
	return &Pipeline{
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		spoolDir:  spoolDir,
		timeout:   timeout,
		wake:      make(chan struct{}, 1),
		logger:    slog.Default(),
	}
}

// Submit validates and stores an upload, then queues its extraction job.
// It returns as soon as the document row exists.
func (p *Pipeline) Submit(ctx context.Context, up Upload) (storage.Document, error) {
	if err := documents.ValidateUpload(up.FileName, up.MIMEType, len(up.Data)); err != nil {
		return storage.Document{}, err
	}
	docType := documents.ParseType(up.DeclaredType)

	if _, err := p.store.GetShipment(ctx, up.ShipmentID); err != nil {
		return storage.Document{}, storeErr(err, "shipment "+up.ShipmentID)
	}

	name := documents.SanitizeFileName(up.FileName)
	mimeType := uploadMIMEType(name, up.MIMEType)
	key := blob.DocumentKey(up.ShipmentID, name)

	spool, err := p.spool(up.Data)
	if err != nil {
		return storage.Document{}, fmt.Errorf("%w: spooling upload: %v", documents.ErrStorageFailure, err)
	}

	fileURL, err := p.blobs.Put(ctx, key, up.Data, mimeType)
	if err != nil {
		p.removeSpool(spool)
		return storage.Document{}, fmt.Errorf("%w: %v", documents.ErrStorageFailure, err)
	}

	doc := storage.Document{
		ID:         uuid.New().String(),
		ShipmentID: up.ShipmentID,
		UploadedBy: up.UploaderID,
		Type:       string(docType),
		FileName:   name,
		FileURL:    fileURL,
		StorageKey: key,
		FileSize:   int64(len(up.Data)),
		MIMEType:   mimeType,
		CreatedAt:  time.Now().UTC(),
	}
	job := storage.ExtractionJob{ID: uuid.New().String(), SpoolPath: spool}

	if err := p.store.CreateDocumentWithJob(ctx, doc, job); err != nil {
		p.removeSpool(spool)
		if derr := p.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			p.logger.Warn("orphaned blob", "key", key, "error", derr)
		}
		return storage.Document{}, storeErr(err, "saving document")
	}

	p.logger.Info("document uploaded", "document_id", doc.ID, "shipment_id", doc.ShipmentID,
		"type", doc.Type, "size", doc.FileSize)
	p.notify()
	return doc, nil
}

// RunExtraction runs the extractor for a claimed job and records the
// outcome. The spool file is removed on every path.
func (p *Pipeline) RunExtraction(ctx context.Context, job storage.ExtractionJob) error {
	defer p.removeSpool(job.SpoolPath)
	start := time.Now()

	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return p.fail(ctx, job, fmt.Sprintf("loading document: %v", err), "", start)
	}

	data, err := p.source(ctx, job, doc)
	if err != nil {
		return p.fail(ctx, job, fmt.Sprintf("reading upload: %v", err), "", start)
	}

	req := extract.Request{
		DocType:  documents.ParseType(doc.Type),
		FileName: doc.FileName,
		MIMEType: doc.MIMEType,
	}
	res, err := p.extract(ctx, data, req)
	if err != nil {
		return p.fail(ctx, job, err.Error(), res.Model, start)
	}

	modelUsed := res.Model
	if modelUsed == "" {
		modelUsed = res.Method
	}
	if len(res.Fields) == 0 {
		return p.fail(ctx, job, "", modelUsed, start)
	}

	out := storage.ExtractionOutcome{
		Fields:           res.Fields,
		Confidence:       res.Confidence,
		Method:           res.Method,
		Model:            modelUsed,
		NeedsReview:      documents.NeedsReview(res.Confidence),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if err := p.store.CompleteExtraction(context.WithoutCancel(ctx), job.ID, out); err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	p.logger.Info("extraction completed", "job_id", job.ID, "document_id", job.DocumentID,
		"confidence", out.Confidence, "needs_review", out.NeedsReview, "ms", out.ProcessingTimeMs)
	return nil
}

// extract calls the extractor under the pipeline timeout. The extractor
// runs in its own goroutine so a call that ignores ctx cannot hold the task.
func (p *Pipeline) extract(ctx context.Context, data []byte, req extract.Request) (extract.Result, error) {
	ectx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type answer struct {
		res extract.Result
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		res, err := p.extractor.Extract(ectx, data, req)
		ch <- answer{res, err}
	}()

	var a answer
	select {
	case a = <-ch:
	case <-ectx.Done():
		a.err = ectx.Err()
	}
	if a.err != nil && errors.Is(ectx.Err(), context.DeadlineExceeded) {
		a.err = fmt.Errorf("extraction timed out after %s", p.timeout)
	}
	return a.res, a.err
}

func (p *Pipeline) fail(ctx context.Context, job storage.ExtractionJob, msg, modelUsed string, start time.Time) error {
	ms := time.Since(start).Milliseconds()
	if err := p.store.FailExtraction(context.WithoutCancel(ctx), job.ID, msg, modelUsed, ms); err != nil {
		return fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	p.logger.Warn("extraction failed", "job_id", job.ID, "document_id", job.DocumentID, "error", msg)
	return nil
}

// source returns the upload bytes, preferring the local spool copy.
func (p *Pipeline) source(ctx context.Context, job storage.ExtractionJob, doc storage.Document) ([]byte, error) {
	if job.SpoolPath != "" {
		data, err := os.ReadFile(job.SpoolPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		p.logger.Debug("spool file gone, reading blob", "job_id", job.ID, "key", doc.StorageKey)
	}
	return p.blobs.Get(ctx, doc.StorageKey)
}

// GetJob returns the extraction job of a document.
func (p *Pipeline) GetJob(ctx context.Context, documentID string) (storage.ExtractionJob, error) {
	job, err := p.store.GetJobByDocument(ctx, documentID)
	if err != nil {
		return storage.ExtractionJob{}, storeErr(err, "job for document "+documentID)
	}
	return job, nil
}

func (p *Pipeline) GetDocument(ctx context.Context, id string) (storage.Document, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return storage.Document{}, storeErr(err, "document "+id)
	}
	return doc, nil
}

// ListDocuments returns the documents of an existing shipment.
func (p *Pipeline) ListDocuments(ctx context.Context, shipmentID string) ([]storage.Document, error) {
	if _, err := p.store.GetShipment(ctx, shipmentID); err != nil {
		return nil, storeErr(err, "shipment "+shipmentID)
	}
	docs, err := p.store.ListDocumentsByShipment(ctx, shipmentID)
	if err != nil {
		return nil, storeErr(err, "listing documents")
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	return docs, nil
}

// DownloadURL returns a short-lived URL for the document's file.
func (p *Pipeline) DownloadURL(ctx context.Context, id string) (string, error) {
	doc, err := p.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	u, err := p.blobs.PresignGet(ctx, doc.StorageKey, downloadExpiry)
	if errors.Is(err, blob.ErrNotFound) {
		return "", fmt.Errorf("file of document %s: %w", id, documents.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", documents.ErrStorageFailure, err)
	}
	return u, nil
}

// Wake returns the channel signalled after every successful Submit.
func (p *Pipeline) Wake() <-chan struct{} {
	return p.wake
}

func (p *Pipeline) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) spool(data []byte) (string, error) {
	dir := p.spoolDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(dir, spoolFilePrefix+"*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// RemoveSpool deletes a spool file, ignoring files that are already gone.
func RemoveSpool(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (p *Pipeline) removeSpool(path string) {
	if err := RemoveSpool(path); err != nil {
		p.logger.Warn("removing spool file", "path", path, "error", err)
	}
}

// storeErr maps storage errors onto the documents taxonomy.
func storeErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, documents.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", what, documents.ErrUnavailable, err)
}

func uploadMIMEType(fileName, declared string) string {
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = declared[:i]
	}
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" || declared == "application/octet-stream" {
		return documents.MIMETypeFor(fileName)
	}
	if declared == "image/jpg" {
		return "image/jpeg"
	}
	return declared
}
