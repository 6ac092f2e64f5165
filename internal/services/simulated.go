package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Simulated implementations back the engine when no external service URLs
// are configured. Outputs are deterministic functions of their inputs so
// repeated runs of the same pipeline reproduce the same artifacts.

// SimulatedCompiler produces a synthetic artifact from a hash of the source.
type SimulatedCompiler struct {
	Syntax Syntax
}

// NewSimulatedCompiler creates a compiler that fabricates artifacts locally.
func NewSimulatedCompiler() *SimulatedCompiler {
	return &SimulatedCompiler{Syntax: NewLocalSyntax()}
}

func (c *SimulatedCompiler) Compile(_ context.Context, req CompileRequest) (*CompileResult, error) {
	if c.Syntax != nil {
		if err := c.Syntax.Check(req.Source); err != nil {
			return nil, err
		}
	}

	digest := sha256.Sum256([]byte(req.Source))
	abi, _ := json.Marshal([]map[string]any{
		{"type": "constructor", "inputs": []any{}},
	})

	version := req.Version
	if version == "" {
		version = "0.8.24"
	}

	return &CompileResult{
		ABI:      abi,
		Bytecode: "0x" + hex.EncodeToString(digest[:]),
		Version:  version,
	}, nil
}

var _ Compiler = (*SimulatedCompiler)(nil)

// SimulatedDeployer fabricates deployment receipts without touching a chain.
type SimulatedDeployer struct {
	Address string
	Network string
}

// NewSimulatedDeployer creates a deployer with a fixed fake wallet session.
func NewSimulatedDeployer(network string) *SimulatedDeployer {
	if network == "" {
		network = "localnet"
	}
	return &SimulatedDeployer{
		Address: "0x00000000000000000000000000000000c4a11f10",
		Network: network,
	}
}

func (d *SimulatedDeployer) Deploy(_ context.Context, req DeployRequest) (*DeployResult, error) {
	seed := req.Bytecode + "|" + fmt.Sprint(req.ConstructorArgs)
	digest := sha256.Sum256([]byte(seed))
	return &DeployResult{
		ContractAddress: "0x" + hex.EncodeToString(digest[:20]),
		TransactionHash: "0x" + hex.EncodeToString(digest[:]),
	}, nil
}

func (d *SimulatedDeployer) Session(_ context.Context) (*Session, error) {
	return &Session{Address: d.Address, Network: d.Network}, nil
}

var _ Deployer = (*SimulatedDeployer)(nil)

// SimulatedAuditor produces a canned line-count analysis.
type SimulatedAuditor struct{}

// NewSimulatedAuditor creates an auditor that answers locally.
func NewSimulatedAuditor() *SimulatedAuditor {
	return &SimulatedAuditor{}
}

func (a *SimulatedAuditor) Analyze(_ context.Context, req AuditRequest) (*AuditResult, error) {
	lines := strings.Count(req.Source, "\n") + 1
	return &AuditResult{
		Analysis: fmt.Sprintf("Reviewed %d lines of contract source. No external audit service configured; run against a real analyzer before deploying to a public network.", lines),
	}, nil
}

var _ Auditor = (*SimulatedAuditor)(nil)
