package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/freightdocs/internal/autofill"
	"github.com/kalambet/freightdocs/internal/ingest"
	"github.com/kalambet/freightdocs/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *ingest.Pipeline, *ingest.Worker) {
	t.Helper()
	app := setupApp(t, nil)
	return MCPDeps{
		Pipeline: app.pipeline,
		Merger:   autofill.NewMerger(app.store, app.store),
	}, app.pipeline, app.worker
}

func submitPDF(t *testing.T, p *ingest.Pipeline) storage.Document {
	t.Helper()
	doc, err := p.Submit(ctx, ingest.Upload{
		ShipmentID: "s1", UploaderID: "u-fwd", FileName: "invoice.pdf",
		DeclaredType: "invoice", Data: []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return doc
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_GetExtractionJob(t *testing.T) {
	deps, pipeline, worker := newTestMCPDeps(t)
	doc := submitPDF(t, pipeline)
	if _, err := worker.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	result, err := mcpGetExtractionJob(deps)(ctx, makeCallToolRequest("get_extraction_job", map[string]interface{}{
		"document_id": doc.ID,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var job storage.ExtractionJob
	if err := json.Unmarshal([]byte(toolText(t, result)), &job); err != nil {
		t.Fatalf("result is not a job: %v", err)
	}
	if job.DocumentID != doc.ID || job.Status != storage.JobCompleted {
		t.Errorf("job = %+v", job)
	}
}

func TestMCPTool_GetExtractionJob_Errors(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpGetExtractionJob(deps)

	result, _ := handler(ctx, makeCallToolRequest("get_extraction_job", map[string]interface{}{}))
	if !result.IsError || !strings.Contains(toolText(t, result), "document_id is required") {
		t.Errorf("missing arg: %+v", result)
	}

	result, _ = handler(ctx, makeCallToolRequest("get_extraction_job", map[string]interface{}{"document_id": "missing"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unknown document: %s", toolText(t, result))
	}
}

func TestMCPTool_ListShipmentDocuments(t *testing.T) {
	deps, pipeline, _ := newTestMCPDeps(t)
	handler := mcpListShipmentDocuments(deps)

	result, _ := handler(ctx, makeCallToolRequest("list_shipment_documents", map[string]interface{}{"shipment_id": "s1"}))
	if result.IsError || toolText(t, result) != "No documents on this shipment." {
		t.Errorf("empty shipment: %s", toolText(t, result))
	}

	submitPDF(t, pipeline)
	result, _ = handler(ctx, makeCallToolRequest("list_shipment_documents", map[string]interface{}{"shipment_id": "s1"}))
	var docs []storage.Document
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil || len(docs) != 1 {
		t.Errorf("docs = %v, err = %v", docs, err)
	}

	result, _ = handler(ctx, makeCallToolRequest("list_shipment_documents", map[string]interface{}{"shipment_id": "nope"}))
	if !result.IsError {
		t.Error("expected error for unknown shipment")
	}
}

func TestMCPTool_AutofillShipment(t *testing.T) {
	deps, pipeline, worker := newTestMCPDeps(t)
	doc := submitPDF(t, pipeline)
	handler := mcpAutofillShipment(deps)

	result, _ := handler(ctx, makeCallToolRequest("autofill_shipment", map[string]interface{}{"document_id": doc.ID}))
	if !result.IsError || !strings.Contains(toolText(t, result), "precondition failed") {
		t.Errorf("before extraction: %s", toolText(t, result))
	}

	if _, err := worker.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	result, _ = handler(ctx, makeCallToolRequest("autofill_shipment", map[string]interface{}{
		"document_id": doc.ID,
		"shipment_id": "s1",
		"fields":      []interface{}{"gross_weight_kg", "hs_code"},
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var res autofill.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.UpdatedFields) != 1 || res.UpdatedFields[0] != "gross_weight_kg" {
		t.Errorf("updated_fields = %v", res.UpdatedFields)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, pipeline, _ := newTestMCPDeps(t)
	doc := submitPDF(t, pipeline)

	jobHandler := mcpGetExtractionJob(deps)
	listHandler := mcpListShipmentDocuments(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := jobHandler(context.Background(), makeCallToolRequest("get_extraction_job", map[string]interface{}{
				"document_id": doc.ID,
			}))
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			_, err := listHandler(context.Background(), makeCallToolRequest("list_shipment_documents", map[string]interface{}{
				"shipment_id": "s1",
			}))
			if err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	s := NewMCPServer(deps, "test")
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
