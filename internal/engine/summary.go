package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/solweave/chainflow/pkg/schema"
)

// SummarySource exposes the recorded outputs a summary is rendered from.
// Satisfied by *RunContext.
type SummarySource interface {
	FirstOfKind(kind schema.NodeKind) (json.RawMessage, bool)
}

// RenderSummary produces the human-readable run report. Sections appear in a
// fixed narrative order (project, source, compile, deploy, audit) and a
// section is omitted when its kind produced no output. Works on partial
// contexts, so failed and stopped runs still get a report of what completed.
func RenderSummary(src SummarySource) string {
	var b strings.Builder
	b.WriteString("=== Pipeline Run Summary ===\n")

	if raw, ok := src.FirstOfKind(schema.KindProjectInit); ok {
		var info schema.ProjectInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			fmt.Fprintf(&b, "Project: %s\n", info.Title)
			if info.Description != "" {
				fmt.Fprintf(&b, "Description: %s\n", info.Description)
			}
		}
	}

	if raw, ok := src.FirstOfKind(schema.KindSourceInput); ok {
		var art schema.SourceArtifact
		if err := json.Unmarshal(raw, &art); err == nil && art.Name != "" {
			fmt.Fprintf(&b, "Source: %s\n", art.Name)
		}
	}

	if raw, ok := src.FirstOfKind(schema.KindCompile); ok {
		var art schema.CompileArtifact
		if err := json.Unmarshal(raw, &art); err == nil {
			if art.Version != "" {
				fmt.Fprintf(&b, "Compilation: success (solc %s)\n", art.Version)
			} else {
				b.WriteString("Compilation: success\n")
			}
		}
	}

	if raw, ok := src.FirstOfKind(schema.KindDeploy); ok {
		var receipt schema.DeployReceipt
		if err := json.Unmarshal(raw, &receipt); err == nil {
			fmt.Fprintf(&b, "Deployed: %s\n", receipt.ContractAddress)
			fmt.Fprintf(&b, "Transaction: %s\n", receipt.TransactionHash)
			if receipt.Network != "" {
				fmt.Fprintf(&b, "Network: %s\n", receipt.Network)
			}
		}
	}

	if raw, ok := src.FirstOfKind(schema.KindAIAudit); ok {
		var report schema.AuditReport
		if err := json.Unmarshal(raw, &report); err == nil {
			b.WriteString("AI Audit: completed\n")
		}
	}

	fmt.Fprintf(&b, "Finished: %s\n", time.Now().UTC().Format(time.RFC3339))

	return b.String()
}
