// Package mcpserver registers MCP tools that expose record operations and
// sync control. It adapts the record store and the sync coordinator to the
// MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/reconcile"
	"github.com/alexjbarnes/sheet-sync/internal/scheduler"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Records is the record store as seen by the tools.
type Records interface {
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, key string) (models.Record, error)
	Create(ctx context.Context, rec models.Record) (string, error)
	Update(ctx context.Context, key string, fields map[string]string) (string, error)
	Delete(ctx context.Context, key string) (string, error)
}

// Syncer runs and reports reconciliation passes.
type Syncer interface {
	Trigger()
	RunOnce(ctx context.Context) (*reconcile.Result, error)
	Status() scheduler.Status
}

// Watermarks returns the last completed pass.
type Watermarks interface {
	Watermark() (state.Watermark, error)
}

// Deps holds everything the tools need.
type Deps struct {
	Records    Records
	Sync       Syncer
	Watermarks Watermarks
	Schema     schema.Schema
}

// RegisterTools adds the record and sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_list",
		Description: "List every record in the table, in store order. Each record is a flat object keyed by column name.",
	}, listHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_get",
		Description: "Fetch one record by key.",
	}, getHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_create",
		Description: "Create a record. Omit the key to have the next numeric key assigned. Unknown field names are rejected.",
	}, createHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_update",
		Description: "Update only the given fields of an existing record. Fields not supplied are left unchanged.",
	}, updateHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "records_delete",
		Description: "Delete a record by key. The next sync pass removes its row from the sheet.",
	}, deleteHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_trigger",
		Description: "Request a sync pass between the table and the sheet. With wait=true the pass runs now and its result is returned.",
	}, triggerHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report scheduler state and the last completed sync pass.",
	}, statusHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListInput has no parameters.
type ListInput struct{}

// KeyInput identifies one record.
type KeyInput struct {
	Key string `json:"key" jsonschema:"record key"`
}

// CreateInput holds parameters for records_create.
type CreateInput struct {
	Key    string            `json:"key,omitempty" jsonschema:"record key, assigned automatically when empty"`
	Fields map[string]string `json:"fields,omitempty" jsonschema:"field values keyed by column name"`
}

// UpdateInput holds parameters for records_update.
type UpdateInput struct {
	Key    string            `json:"key" jsonschema:"record key"`
	Fields map[string]string `json:"fields" jsonschema:"fields to change, keyed by column name"`
}

// TriggerInput holds parameters for sync_trigger.
type TriggerInput struct {
	Wait bool `json:"wait,omitempty" jsonschema:"run the pass now and return its result"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// --- Output types ---

// ListOutput is the result of records_list.
type ListOutput struct {
	Count   int                 `json:"count"`
	Records []map[string]string `json:"records"`
}

// RecordOutput is the result of records_get.
type RecordOutput struct {
	Record map[string]string `json:"record"`
}

// MutationOutput is the result of the create, update and delete tools.
type MutationOutput struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

// TriggerOutput is the result of sync_trigger.
type TriggerOutput struct {
	Scheduled bool               `json:"scheduled"`
	InFlight  bool               `json:"in_flight,omitempty"`
	PassID    string             `json:"pass_id,omitempty"`
	Written   bool               `json:"sheet_written,omitempty"`
	Changes   []reconcile.Change `json:"changes,omitempty"`
}

// StatusOutput is the result of sync_status.
type StatusOutput struct {
	Running      bool   `json:"running"`
	Pending      bool   `json:"pending"`
	Passes       int64  `json:"passes"`
	Failures     int64  `json:"failures"`
	LastFinished string `json:"last_finished,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	LastSynced   string `json:"last_synced,omitempty"`
	LastPassID   string `json:"last_pass_id,omitempty"`
	Changes      int    `json:"last_changes"`
}

// --- Handlers ---

func listHandler(d Deps) mcp.ToolHandlerFor[ListInput, *ListOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, *ListOutput, error) {
		recs, err := d.Records.List(ctx)
		if err != nil {
			return nil, nil, err
		}

		out := &ListOutput{Count: len(recs), Records: make([]map[string]string, 0, len(recs))}
		for _, rec := range recs {
			out.Records = append(out.Records, flatten(d.Schema, rec))
		}

		return textResult(out), out, nil
	}
}

func getHandler(d Deps) mcp.ToolHandlerFor[KeyInput, *RecordOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input KeyInput) (*mcp.CallToolResult, *RecordOutput, error) {
		rec, err := d.Records.Get(ctx, strings.TrimSpace(input.Key))
		if err != nil {
			return nil, nil, err
		}

		out := &RecordOutput{Record: flatten(d.Schema, rec)}

		return textResult(out), out, nil
	}
}

func createHandler(d Deps) mcp.ToolHandlerFor[CreateInput, *MutationOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, *MutationOutput, error) {
		key, err := d.Records.Create(ctx, models.Record{Key: input.Key, Fields: input.Fields})
		if err != nil {
			return nil, nil, err
		}

		d.Sync.Trigger()

		out := &MutationOutput{Key: key, Action: "created"}

		return textResult(out), out, nil
	}
}

func updateHandler(d Deps) mcp.ToolHandlerFor[UpdateInput, *MutationOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateInput) (*mcp.CallToolResult, *MutationOutput, error) {
		if len(input.Fields) == 0 {
			return nil, nil, fmt.Errorf("no fields to update")
		}

		key, err := d.Records.Update(ctx, strings.TrimSpace(input.Key), input.Fields)
		if err != nil {
			return nil, nil, err
		}

		d.Sync.Trigger()

		out := &MutationOutput{Key: key, Action: "updated"}

		return textResult(out), out, nil
	}
}

func deleteHandler(d Deps) mcp.ToolHandlerFor[KeyInput, *MutationOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input KeyInput) (*mcp.CallToolResult, *MutationOutput, error) {
		key, err := d.Records.Delete(ctx, strings.TrimSpace(input.Key))
		if err != nil {
			return nil, nil, err
		}

		d.Sync.Trigger()

		out := &MutationOutput{Key: key, Action: "deleted"}

		return textResult(out), out, nil
	}
}

func triggerHandler(d Deps) mcp.ToolHandlerFor[TriggerInput, *TriggerOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TriggerInput) (*mcp.CallToolResult, *TriggerOutput, error) {
		if !input.Wait {
			d.Sync.Trigger()

			out := &TriggerOutput{Scheduled: true}

			return textResult(out), out, nil
		}

		res, err := d.Sync.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, syncerr.ErrPassInFlight) {
				out := &TriggerOutput{Scheduled: true, InFlight: true}
				return textResult(out), out, nil
			}

			return nil, nil, err
		}

		out := &TriggerOutput{PassID: res.PassID, Written: res.SheetWritten, Changes: res.Changes}

		return textResult(out), out, nil
	}
}

func statusHandler(d Deps) mcp.ToolHandlerFor[StatusInput, *StatusOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusOutput, error) {
		st := d.Sync.Status()

		wm, err := d.Watermarks.Watermark()
		if err != nil {
			return nil, nil, err
		}

		out := &StatusOutput{
			Running:      st.Running,
			Pending:      st.Pending,
			Passes:       st.Passes,
			Failures:     st.Failures,
			LastFinished: formatTime(st.LastFinished),
			LastError:    st.LastError,
			LastSynced:   formatTime(wm.LastSynced),
			LastPassID:   wm.PassID,
			Changes:      wm.Changes,
		}

		return textResult(out), out, nil
	}
}

func flatten(sc schema.Schema, rec models.Record) map[string]string {
	out := make(map[string]string, len(sc.Fields)+2)
	out[sc.Key] = rec.Key

	for _, f := range sc.Fields {
		out[f] = rec.Fields[f]
	}

	if sc.Timestamp != "" && !rec.Modified.IsZero() {
		out[sc.Timestamp] = formatTime(rec.Modified)
	}

	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
