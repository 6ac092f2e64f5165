// Package services defines the delegated collaborator contracts consumed by
// node handlers: compilation, deployment, and AI analysis are performed by
// external systems; the engine only orchestrates them.
package services

import (
	"context"
	"encoding/json"
)

// CompileRequest carries one contract source to the compiler service.
type CompileRequest struct {
	Source  string `json:"source"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// CompileResult is the compiler service's success response.
type CompileResult struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
	Version  string          `json:"version,omitempty"`
}

// Compiler compiles contract source into an ABI and deployable bytecode.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}

// DeployRequest carries a compiled artifact to the wallet/deploy service.
type DeployRequest struct {
	ABI             json.RawMessage `json:"abi"`
	Bytecode        string          `json:"bytecode"`
	ConstructorArgs []any           `json:"constructorArgs,omitempty"`
	Network         string          `json:"network,omitempty"`
}

// DeployResult is the deploy service's success response.
type DeployResult struct {
	ContractAddress string `json:"contractAddress"`
	TransactionHash string `json:"transactionHash"`
}

// Session describes the wallet session a deployment would use.
type Session struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// Deployer submits compiled contracts to a network through a wallet session.
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
	Session(ctx context.Context) (*Session, error)
}

// AuditRequest carries contract source and an analysis prompt to the AI service.
type AuditRequest struct {
	Source string `json:"source"`
	Prompt string `json:"prompt"`
}

// AuditResult is the AI service's analysis response.
type AuditResult struct {
	Analysis string `json:"analysis"`
}

// Auditor runs an AI security analysis over contract source.
type Auditor interface {
	Analyze(ctx context.Context, req AuditRequest) (*AuditResult, error)
}

// Syntax performs a cheap local sanity check on contract source before it is
// handed to the compiler.
type Syntax interface {
	Check(source string) error
}
