package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedShipment(t *testing.T, s *Store, id string) Shipment {
	t.Helper()
	sh := Shipment{
		ID:             id,
		ShipmentNumber: "SHP-" + id,
		SupplierID:     "supplier-1",
		OriginPort:     "CNSHA",
	}
	if err := s.CreateShipment(ctx, sh); err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	return sh
}

func seedDocument(t *testing.T, s *Store, shipmentID, docID string) ExtractionJob {
	t.Helper()
	doc := Document{
		ID:         docID,
		ShipmentID: shipmentID,
		UploadedBy: "user-1",
		Type:       "invoice",
		FileName:   "invoice.pdf",
		FileURL:    "file:///blobs/" + docID,
		StorageKey: "shipments/" + shipmentID + "/documents/" + docID,
		FileSize:   42,
		MIMEType:   "application/pdf",
	}
	job := ExtractionJob{ID: "job-" + docID, SpoolPath: "/tmp/spool-" + docID}
	if err := s.CreateDocumentWithJob(ctx, doc, job); err != nil {
		t.Fatalf("CreateDocumentWithJob: %v", err)
	}
	job.DocumentID = docID
	return job
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	seedShipment(t, s1, "keep")
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v1 != v2 {
		t.Errorf("schema version changed: %d -> %d", v1, v2)
	}
	if _, err := s2.GetShipment(ctx, "keep"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}

func TestSchemaVersionMatchesNewestMigration(t *testing.T) {
	s := openTestStore(t)

	ms, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) < 2 {
		t.Fatalf("expected at least two migrations, got %d", len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].version <= ms[i-1].version {
			t.Errorf("migrations not in ascending order: %s before %s", ms[i-1].name, ms[i].name)
		}
	}

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != ms[len(ms)-1].version {
		t.Errorf("SchemaVersion = %d, want %d", v, ms[len(ms)-1].version)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	s := openTestStore(t)
	before, _ := s.SchemaVersion(ctx)

	err := s.migrate(ctx, []migration{{version: before + 1, name: "999_bad.sql", sql: "CREATE TABLE broken (;"}})
	if err == nil {
		t.Fatal("expected error for invalid migration")
	}
	if after, _ := s.SchemaVersion(ctx); after != before {
		t.Errorf("version moved to %d after failed migration", after)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_documents_shipment", "idx_extraction_jobs_status", "idx_api_tokens_user"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestShipment_CreateGetUpdate(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")

	got, err := s.GetShipment(ctx, "s1")
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if got.Status != "draft" {
		t.Errorf("Status = %q, want draft", got.Status)
	}
	if got.GrossWeightKg != nil || got.TotalPackages != nil {
		t.Errorf("expected unset numeric fields, got %+v", got)
	}

	weight, packages := 1250.5, 12
	fields := map[string]any{"gross_weight_kg": weight, "total_packages": packages, "hs_code": "8471.30"}
	if err := s.UpdateShipmentFields(ctx, "s1", fields); err != nil {
		t.Fatalf("UpdateShipmentFields: %v", err)
	}

	again, err := s.GetShipment(ctx, "s1")
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if again.GrossWeightKg == nil || *again.GrossWeightKg != weight {
		t.Errorf("GrossWeightKg = %v, want %v", again.GrossWeightKg, weight)
	}
	if again.TotalPackages == nil || *again.TotalPackages != packages {
		t.Errorf("TotalPackages = %v, want %d", again.TotalPackages, packages)
	}
	if again.HSCode != "8471.30" {
		t.Errorf("HSCode = %q", again.HSCode)
	}
	if again.Status != "draft" {
		t.Errorf("untouched Status = %q, want draft", again.Status)
	}
}

// Two writers that read the same snapshot and update different columns
// must both land.
func TestShipment_DisjointUpdatesKeepEachOther(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")

	if _, err := s.GetShipment(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateShipmentFields(ctx, "s1", map[string]any{"gross_weight_kg": 1200.0}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdateShipmentFields(ctx, "s1", map[string]any{"hs_code": "8471.30"}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := s.GetShipment(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.GrossWeightKg == nil || *got.GrossWeightKg != 1200 {
		t.Errorf("GrossWeightKg = %v, want 1200", got.GrossWeightKg)
	}
	if got.HSCode != "8471.30" {
		t.Errorf("HSCode = %q, want 8471.30", got.HSCode)
	}
}

func TestShipment_UpdateRejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")

	err := s.UpdateShipmentFields(ctx, "s1", map[string]any{"hs_code": "1", "id": "s2"})
	if err == nil {
		t.Fatal("expected error for non-updatable column")
	}
	if got, _ := s.GetShipment(ctx, "s1"); got.HSCode != "" {
		t.Errorf("HSCode = %q, rejected update was partially applied", got.HSCode)
	}
}

func TestShipment_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetShipment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetShipment err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateShipmentFields(ctx, "missing", map[string]any{"hs_code": "1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateShipmentFields err = %v, want ErrNotFound", err)
	}
}

func TestCreateDocumentWithJob_StartsPending(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	seedDocument(t, s, "s1", "d1")

	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ExtractedData != nil || doc.ConfidenceScore != nil || doc.ExtractionMethod != nil || doc.NeedsReview != nil {
		t.Errorf("derived fields should be unset, got %+v", doc)
	}

	job, err := s.GetJobByDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetJobByDocument: %v", err)
	}
	if job.Status != JobPending {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.SpoolPath != "/tmp/spool-d1" {
		t.Errorf("SpoolPath = %q", job.SpoolPath)
	}
}

func TestCreateDocumentWithJob_UnknownShipment(t *testing.T) {
	s := openTestStore(t)

	err := s.CreateDocumentWithJob(ctx, Document{ID: "d1", ShipmentID: "nope", Type: "invoice"}, ExtractionJob{ID: "j1"})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}
	if _, err := s.GetDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("document should not exist, got err=%v", err)
	}
}

func TestInsertExtractionJob_DuplicateRejected(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	seedDocument(t, s, "s1", "d1")

	err := insertExtractionJob(ctx, s.db, ExtractionJob{ID: "second", DocumentID: "d1"})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
	if _, err := s.GetExtractionJob(ctx, "second"); !errors.Is(err, ErrNotFound) {
		t.Errorf("duplicate job was stored, err=%v", err)
	}
}

func TestClaimNextExtractionJob(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	first := seedDocument(t, s, "s1", "d1")
	second := seedDocument(t, s, "s1", "d2")

	j, err := s.ClaimNextExtractionJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j == nil || j.ID != first.ID {
		t.Fatalf("claimed %+v, want %s", j, first.ID)
	}
	if j.Status != JobProcessing || j.Attempts != 1 {
		t.Errorf("claimed job = %+v, want processing with 1 attempt", j)
	}

	j2, err := s.ClaimNextExtractionJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j2 == nil || j2.ID != second.ID {
		t.Fatalf("second claim = %+v, want %s", j2, second.ID)
	}

	j3, err := s.ClaimNextExtractionJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j3 != nil {
		t.Errorf("expected no pending job, got %+v", j3)
	}
}

func TestCompleteExtraction(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	job := seedDocument(t, s, "s1", "d1")

	if _, err := s.ClaimNextExtractionJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	out := ExtractionOutcome{
		Fields:           map[string]any{"invoice_number": "INV-1", "amount": 100.0},
		Confidence:       0.66,
		Method:           "test-model",
		NeedsReview:      true,
		ProcessingTimeMs: 1200,
	}
	if err := s.CompleteExtraction(ctx, job.ID, out); err != nil {
		t.Fatalf("CompleteExtraction: %v", err)
	}

	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ExtractedData["invoice_number"] != "INV-1" {
		t.Errorf("extracted_data = %v", doc.ExtractedData)
	}
	if doc.ConfidenceScore == nil || *doc.ConfidenceScore != 0.66 {
		t.Errorf("confidence = %v", doc.ConfidenceScore)
	}
	if doc.NeedsReview == nil || !*doc.NeedsReview {
		t.Errorf("needs_review = %v, want true", doc.NeedsReview)
	}
	if doc.ExtractionMethod == nil || *doc.ExtractionMethod != "test-model" {
		t.Errorf("extraction_method = %v", doc.ExtractionMethod)
	}

	got, err := s.GetExtractionJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetExtractionJob: %v", err)
	}
	if got.Status != JobCompleted || got.ModelUsed != "test-model" || got.ProcessingTimeMs != 1200 {
		t.Errorf("job = %+v", got)
	}
	if got.SpoolPath != "" {
		t.Errorf("spool path should be cleared, got %q", got.SpoolPath)
	}
}

func TestFailExtraction_LeavesDocumentUnset(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	job := seedDocument(t, s, "s1", "d1")

	if _, err := s.ClaimNextExtractionJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailExtraction(ctx, job.ID, "model exploded", "openrouter", 10); err != nil {
		t.Fatalf("FailExtraction: %v", err)
	}

	got, _ := s.GetExtractionJob(ctx, job.ID)
	if got.Status != JobFailed || got.ErrorMessage != "model exploded" {
		t.Errorf("job = %+v", got)
	}
	doc, _ := s.GetDocument(ctx, "d1")
	if doc.ExtractedData != nil || doc.ConfidenceScore != nil {
		t.Errorf("document should be untouched, got %+v", doc)
	}
}

func TestTerminalJobsDoNotTransition(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	job := seedDocument(t, s, "s1", "d1")

	// Pending jobs cannot complete or fail before being claimed.
	if err := s.FailExtraction(ctx, job.ID, "x", "", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail from pending err = %v, want ErrInvalidTransition", err)
	}

	if _, err := s.ClaimNextExtractionJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailExtraction(ctx, job.ID, "first", "", 0); err != nil {
		t.Fatalf("FailExtraction: %v", err)
	}

	err := s.CompleteExtraction(ctx, job.ID, ExtractionOutcome{Fields: map[string]any{"a": "b"}})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete after fail err = %v, want ErrInvalidTransition", err)
	}
	if err := s.FailExtraction(ctx, job.ID, "second", "", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail after fail err = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetExtractionJob(ctx, job.ID)
	if got.Status != JobFailed || got.ErrorMessage != "first" {
		t.Errorf("terminal job changed: %+v", got)
	}
	doc, _ := s.GetDocument(ctx, "d1")
	if doc.ExtractedData != nil {
		t.Errorf("document changed after terminal failure: %+v", doc.ExtractedData)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	s := openTestStore(t)
	if err := s.FailExtraction(ctx, "nope", "x", "", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteExtraction(ctx, "nope", ExtractionOutcome{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobProcessing, true},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobFailed, true},
		{JobPending, JobCompleted, false},
		{JobPending, JobFailed, false},
		{JobProcessing, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobCompleted, JobProcessing, false},
		{JobFailed, JobPending, false},
		{JobFailed, JobCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if !JobCompleted.Terminal() || !JobFailed.Terminal() || JobPending.Terminal() || JobProcessing.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestListStaleJobs(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	job := seedDocument(t, s, "s1", "d1")
	seedDocument(t, s, "s1", "d2")

	if _, err := s.ClaimNextExtractionJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale, err := s.ListStaleJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("stale = %+v, want only %s", stale, job.ID)
	}

	fresh, err := s.ListStaleJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleJobs: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("expected no stale jobs before cutoff, got %d", len(fresh))
	}

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[JobProcessing] != 1 || counts[JobPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListDocumentsByShipment(t *testing.T) {
	s := openTestStore(t)
	seedShipment(t, s, "s1")
	seedShipment(t, s, "s2")
	seedDocument(t, s, "s1", "d1")
	seedDocument(t, s, "s1", "d2")
	seedDocument(t, s, "s2", "d3")

	docs, err := s.ListDocumentsByShipment(ctx, "s1")
	if err != nil {
		t.Fatalf("ListDocumentsByShipment: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "d1" || docs[1].ID != "d2" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestAPIToken_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateAPIToken(ctx, APIToken{TokenHash: "abc", UserID: "u1", Role: "forwarder"}); err != nil {
		t.Fatalf("CreateAPIToken: %v", err)
	}
	got, err := s.GetAPIToken(ctx, "abc")
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if got.UserID != "u1" || got.Role != "forwarder" {
		t.Errorf("token = %+v", got)
	}
	if _, err := s.GetAPIToken(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
