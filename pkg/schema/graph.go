package schema

import "encoding/json"

// Graph is the JSON-serializable pipeline graph authored in the editor.
// The engine treats it as immutable input for the duration of one run.
type Graph struct {
	Nodes    []Node         `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Node is a single pipeline step drawn on the canvas.
type Node struct {
	ID      string          `json:"id"`
	Kind    NodeKind        `json:"kind"`
	Label   string          `json:"label,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"` // kind-specific fields
	Status  NodeStatus      `json:"status,omitempty"`
}

// DisplayLabel returns the label shown to users in reports and error
// messages: the explicit label if set, otherwise "<kind> (<id>)".
func (n *Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return string(n.Kind) + " (" + n.ID + ")"
}

// Edge is a directed connection from one node's output to another's input.
// Edges carry no payload of their own; status annotations for the canvas
// are derived from the endpoint nodes at runtime.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeKind enumerates the kinds of pipeline nodes. The set is closed:
// a graph containing any other tag is rejected before scheduling.
type NodeKind string

const (
	KindProjectInit     NodeKind = "projectInit"
	KindSourceInput     NodeKind = "sourceInput"
	KindCompile         NodeKind = "compile"
	KindExtractABI      NodeKind = "extractAbi"
	KindExtractBytecode NodeKind = "extractBytecode"
	KindDeploy          NodeKind = "deploy"
	KindAIAudit         NodeKind = "aiAudit"
	KindCompletion      NodeKind = "completion"
)

// Kinds returns all recognized node kinds in no particular order.
func Kinds() []NodeKind {
	return []NodeKind{
		KindProjectInit,
		KindSourceInput,
		KindCompile,
		KindExtractABI,
		KindExtractBytecode,
		KindDeploy,
		KindAIAudit,
		KindCompletion,
	}
}

// ValidKind reports whether k is a recognized node kind.
func ValidKind(k NodeKind) bool {
	switch k {
	case KindProjectInit, KindSourceInput, KindCompile, KindExtractABI,
		KindExtractBytecode, KindDeploy, KindAIAudit, KindCompletion:
		return true
	}
	return false
}

// --- Per-kind payloads (authored in the editor) ---

// ProjectInitPayload configures a projectInit node.
type ProjectInitPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SourceInputPayload configures a sourceInput node.
type SourceInputPayload struct {
	Source string `json:"source"`
	Name   string `json:"name,omitempty"` // derived from the source when empty
}

// CompilePayload configures a compile node.
type CompilePayload struct {
	Version string `json:"version,omitempty"` // compiler version tag
}

// DeployPayload configures a deploy node.
// ConstructorArgs should be a JSON array; other shapes are best-effort
// parsed and fall back to no arguments.
type DeployPayload struct {
	Network         string          `json:"network"`
	ConstructorArgs json.RawMessage `json:"constructorArgs,omitempty"`
}

// AuditPayload configures an aiAudit node.
type AuditPayload struct {
	Prompt string `json:"prompt,omitempty"` // defaulted when empty
}

// --- Per-kind outputs (recorded on the run context) ---

// ProjectInfo is the output of a projectInit node.
type ProjectInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC 3339
}

// SourceArtifact is the output of a sourceInput node.
type SourceArtifact struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// CompileArtifact is the output of a compile node.
type CompileArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
	Version  string          `json:"version,omitempty"`
}

// DeployReceipt is the output of a deploy node.
type DeployReceipt struct {
	ContractAddress string `json:"contractAddress"`
	TransactionHash string `json:"transactionHash"`
	Network         string `json:"network,omitempty"`
}

// AuditReport is the output of an aiAudit node.
type AuditReport struct {
	Analysis string `json:"analysis"`
	Prompt   string `json:"prompt,omitempty"`
}
