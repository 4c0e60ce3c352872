package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/zone-migrate/internal/safety"
	"github.com/jamesprial/zone-migrate/internal/tools"
)

// DestructiveTools lists the MCP tools that require a confirmation token:
// everything that mutates or destroys a VM.
var DestructiveTools = []string{"vm_migrate", "migration_finalize", "migration_rollback"}

// Tools returns the MCP tool registrations for the migration operations,
// wired to the orchestrator, ConfirmationTracker, and AuditLogger. The
// snapshot name defaults per tool call to defaultSnapshot.
func Tools(
	o *Orchestrator,
	confirm *safety.ConfirmationTracker,
	audit *safety.AuditLogger,
	defaultSnapshot string,
) []tools.Registration {
	return []tools.Registration{
		migrationList(o, audit),
		migrationStatus(o, audit),
		vmMigrate(o, confirm, audit, defaultSnapshot),
		migrationFinalize(o, confirm, audit),
		migrationRollback(o, confirm, audit),
	}
}

func migrationList(o *Orchestrator, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("migration_list",
		mcp.WithDescription("List VMs with an active (non-finalized) migration record."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		vms, err := o.List()
		if err != nil {
			tools.LogAudit(audit, "migration_list", "", nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, "migration_list", "", nil, "ok", start)
		return tools.JSONResult(vms), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func migrationStatus(o *Orchestrator, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("migration_status",
		mcp.WithDescription("Show the migration record for a VM."),
		mcp.WithString("vm_uuid",
			mcp.Required(),
			mcp.Description("VM uuid"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		vmID := req.GetString("vm_uuid", "")
		params := map[string]any{"vm_uuid": vmID}

		rec, err := o.Status(vmID)
		if err != nil {
			tools.LogAudit(audit, "migration_status", vmID, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, "migration_status", vmID, params, "ok", start)
		return tools.JSONResult(map[string]any{
			"vm_uuid":           rec.VMUUID,
			"vm_alias":          rec.VMAlias,
			"source_cn_uuid":    rec.SourceUUID,
			"source_cn_address": rec.SourceAddress,
			"target_cn_uuid":    rec.TargetUUID,
			"target_cn_address": rec.TargetAddress,
			"snapshot_name":     rec.SnapshotName,
			"quota":             rec.Quota,
			"has_delegated":     rec.HasDelegated,
		}), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func vmMigrate(o *Orchestrator, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger, defaultSnapshot string) tools.Registration {
	const toolName = "vm_migrate"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Migrate a VM to another compute node. Stops the VM for the transfer. Requires confirmation."),
		mcp.WithString("vm_uuid",
			mcp.Required(),
			mcp.Description("VM uuid"),
		),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Target node hostname or uuid"),
		),
		mcp.WithString("snapshot_name",
			mcp.Description("Snapshot label to use (default: the configured label)"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		vmID := req.GetString("vm_uuid", "")
		target := req.GetString("target", "")
		snap := req.GetString("snapshot_name", defaultSnapshot)
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"vm_uuid": vmID, "target": target, "snapshot_name": snap}

		if !confirm.Confirm(token) {
			desc := fmt.Sprintf("This will stop VM %s and migrate it to node %q.", vmID, target)
			return tools.ConfirmPrompt(confirm, toolName, vmID, desc), nil
		}

		if err := o.Migrate(ctx, vmID, target, snap); err != nil {
			tools.LogAudit(audit, toolName, vmID, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, toolName, vmID, params, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf(
			"VM %s migrated to %q; run migration_finalize or migration_rollback to complete", vmID, target)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func migrationFinalize(o *Orchestrator, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "migration_finalize"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Finalize a pending migration, permanently deleting the source VM. Irreversible. Requires confirmation."),
		mcp.WithString("vm_uuid",
			mcp.Required(),
			mcp.Description("VM uuid"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		vmID := req.GetString("vm_uuid", "")
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"vm_uuid": vmID}

		if !confirm.Confirm(token) {
			desc := fmt.Sprintf("This will permanently delete the source copy of VM %s. Rollback becomes impossible.", vmID)
			return tools.ConfirmPrompt(confirm, toolName, vmID, desc), nil
		}

		if err := o.Finalize(ctx, vmID); err != nil {
			tools.LogAudit(audit, toolName, vmID, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, toolName, vmID, params, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf("migration of VM %s finalized", vmID)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func migrationRollback(o *Orchestrator, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "migration_rollback"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Roll back a pending migration, deleting the target copy and restarting the VM on its source node. Requires confirmation."),
		mcp.WithString("vm_uuid",
			mcp.Required(),
			mcp.Description("VM uuid"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		vmID := req.GetString("vm_uuid", "")
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"vm_uuid": vmID}

		if !confirm.Confirm(token) {
			desc := fmt.Sprintf("This will delete the target copy of VM %s and restart it on its source node.", vmID)
			return tools.ConfirmPrompt(confirm, toolName, vmID, desc), nil
		}

		if err := o.Rollback(ctx, vmID); err != nil {
			tools.LogAudit(audit, toolName, vmID, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, toolName, vmID, params, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf("migration of VM %s rolled back", vmID)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
