package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/freightdocs/internal/autofill"
	"github.com/kalambet/freightdocs/internal/storage"
)

// MCPPipeline is the part of the ingest pipeline the MCP tools read.
type MCPPipeline interface {
	GetJob(ctx context.Context, documentID string) (storage.ExtractionJob, error)
	ListDocuments(ctx context.Context, shipmentID string) ([]storage.Document, error)
}

// MCPMerger applies extracted data to shipments.
type MCPMerger interface {
	Apply(ctx context.Context, documentID, shipmentID string, fields []string) (autofill.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline MCPPipeline
	Merger   MCPMerger
}

// NewMCPServer creates an MCP server with the document tools registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"freightdocs",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("freightdocs: extraction status of freight documents and shipment autofill."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_extraction_job",
			mcp.WithDescription("Return the extraction job of a document: status, model used, timing and error message."),
			mcp.WithString("document_id", mcp.Description("Document ID"), mcp.Required()),
		),
		mcpGetExtractionJob(deps),
	)

	s.AddTool(
		mcp.NewTool("list_shipment_documents",
			mcp.WithDescription("List the documents attached to a shipment with their extracted data."),
			mcp.WithString("shipment_id", mcp.Description("Shipment ID"), mcp.Required()),
		),
		mcpListShipmentDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("autofill_shipment",
			mcp.WithDescription("Copy extracted values from a document onto its shipment."),
			mcp.WithString("document_id", mcp.Description("Document ID"), mcp.Required()),
			mcp.WithString("shipment_id", mcp.Description("Shipment ID; must match the document's shipment when given")),
			mcp.WithArray("fields", mcp.Description("Shipment fields to fill (default: all supported fields)")),
		),
		mcpAutofillShipment(deps),
	)

	return s
}

func mcpGetExtractionJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		job, err := deps.Pipeline.GetJob(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("get job: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func mcpListShipmentDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("shipment_id")
		if err != nil {
			return mcpError("shipment_id is required"), nil
		}
		docs, err := deps.Pipeline.ListDocuments(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("list documents: %v", err)), nil
		}
		if len(docs) == 0 {
			return mcpText("No documents on this shipment."), nil
		}
		return mcpJSON(docs)
	}
}

func mcpAutofillShipment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		shipmentID := req.GetString("shipment_id", "")
		fields := req.GetStringSlice("fields", nil)

		res, err := deps.Merger.Apply(ctx, docID, shipmentID, fields)
		if err != nil {
			return mcpError(fmt.Sprintf("autofill: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
