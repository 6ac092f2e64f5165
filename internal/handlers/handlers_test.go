package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solweave/chainflow/internal/expressions"
	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/pkg/schema"
)

// mapLookup is a fixed kind→output table standing in for the run context.
type mapLookup map[schema.NodeKind]json.RawMessage

func (m mapLookup) UpstreamOutput(nodeID string, kind schema.NodeKind) (json.RawMessage, error) {
	if out, ok := m[kind]; ok {
		return out, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeUpstreamMissing,
		"no upstream %s output found for node %s", kind, nodeID).WithNode(nodeID)
}

func node(id string, kind schema.NodeKind) *schema.Node {
	return &schema.Node{ID: id, Kind: kind}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	return ferr.Code
}

func TestProjectHandler(t *testing.T) {
	h := NewProjectHandler()
	ctx := context.Background()

	out, err := h.Execute(ctx, Input{
		Node:    node("p1", schema.KindProjectInit),
		Payload: json.RawMessage(`{"title":"Token Sale","description":"crowdsale pipeline"}`),
	})
	require.NoError(t, err)

	var info schema.ProjectInfo
	require.NoError(t, json.Unmarshal(out.Data, &info))
	assert.Equal(t, "Token Sale", info.Title)
	assert.NotEmpty(t, info.Timestamp)

	_, err = h.Execute(ctx, Input{Node: node("p1", schema.KindProjectInit), Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
}

func TestSourceHandler_DerivesName(t *testing.T) {
	h := NewSourceHandler(services.NewLocalSyntax())
	ctx := context.Background()

	out, err := h.Execute(ctx, Input{
		Node:    node("s1", schema.KindSourceInput),
		Payload: json.RawMessage(`{"source":"pragma solidity ^0.8.0;\ncontract Counter { uint256 n; }"}`),
	})
	require.NoError(t, err)

	var art schema.SourceArtifact
	require.NoError(t, json.Unmarshal(out.Data, &art))
	assert.Equal(t, "Counter.sol", art.Name)
}

func TestSourceHandler_Validation(t *testing.T) {
	h := NewSourceHandler(services.NewLocalSyntax())
	ctx := context.Background()

	_, err := h.Execute(ctx, Input{Node: node("s1", schema.KindSourceInput), Payload: json.RawMessage(`{"source":""}`)})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))

	_, err = h.Execute(ctx, Input{
		Node:    node("s1", schema.KindSourceInput),
		Payload: json.RawMessage(`{"source":"contract C {"}`),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
}

func TestCompileHandler(t *testing.T) {
	h := NewCompileHandler(services.NewSimulatedCompiler())
	ctx := context.Background()

	lookup := mapLookup{
		schema.KindSourceInput: json.RawMessage(`{"source":"contract C { }","name":"C.sol"}`),
	}

	out, err := h.Execute(ctx, Input{
		Node:    node("c1", schema.KindCompile),
		Payload: json.RawMessage(`{"version":"0.8.21"}`),
		Lookup:  lookup,
	})
	require.NoError(t, err)

	var art schema.CompileArtifact
	require.NoError(t, json.Unmarshal(out.Data, &art))
	assert.NotEmpty(t, art.Bytecode)
	assert.Equal(t, "0.8.21", art.Version)
}

func TestCompileHandler_MissingUpstream(t *testing.T) {
	h := NewCompileHandler(services.NewSimulatedCompiler())
	_, err := h.Execute(context.Background(), Input{
		Node:   node("c1", schema.KindCompile),
		Lookup: mapLookup{},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUpstreamMissing, errCode(t, err))
}

func TestExtractHandlers(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	ctx := context.Background()

	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"abi":[{"type":"constructor"}],"bytecode":"0x6001"}`),
	}

	abiOut, err := NewExtractABIHandler(jq).Execute(ctx, Input{
		Node: node("e1", schema.KindExtractABI), Lookup: lookup,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"abi":[{"type":"constructor"}]}`, string(abiOut.Data))

	bcOut, err := NewExtractBytecodeHandler(jq).Execute(ctx, Input{
		Node: node("e2", schema.KindExtractBytecode), Lookup: lookup,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bytecode":"0x6001"}`, string(bcOut.Data))
}

func TestExtractHandler_FieldAbsent(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"bytecode":"0x6001"}`),
	}

	_, err := NewExtractABIHandler(jq).Execute(context.Background(), Input{
		Node: node("e1", schema.KindExtractABI), Lookup: lookup,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
}

func TestDeployHandler_PrefersExtractedArtifacts(t *testing.T) {
	h := NewDeployHandler(services.NewSimulatedDeployer("localnet"))
	ctx := context.Background()

	lookup := mapLookup{
		schema.KindExtractABI:      json.RawMessage(`{"abi":[{"type":"constructor"}]}`),
		schema.KindExtractBytecode: json.RawMessage(`{"bytecode":"0x6001"}`),
	}

	out, err := h.Execute(ctx, Input{
		Node:    node("d1", schema.KindDeploy),
		Payload: json.RawMessage(`{"constructorArgs":[42,"owner"]}`),
		Lookup:  lookup,
	})
	require.NoError(t, err)

	var receipt schema.DeployReceipt
	require.NoError(t, json.Unmarshal(out.Data, &receipt))
	assert.NotEmpty(t, receipt.ContractAddress)
	assert.Equal(t, "localnet", receipt.Network)
}

func TestDeployHandler_FallsBackToCompileArtifact(t *testing.T) {
	h := NewDeployHandler(services.NewSimulatedDeployer(""))
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"abi":[],"bytecode":"0x6002"}`),
	}

	out, err := h.Execute(context.Background(), Input{
		Node:   node("d1", schema.KindDeploy),
		Lookup: lookup,
	})
	require.NoError(t, err)

	var receipt schema.DeployReceipt
	require.NoError(t, json.Unmarshal(out.Data, &receipt))
	assert.NotEmpty(t, receipt.TransactionHash)
}

// networklessDeployer answers with a wallet session that names no network,
// the shape a remote deploy service may return.
type networklessDeployer struct{}

func (d *networklessDeployer) Deploy(_ context.Context, _ services.DeployRequest) (*services.DeployResult, error) {
	return &services.DeployResult{ContractAddress: "0xdead", TransactionHash: "0xbeef"}, nil
}

func (d *networklessDeployer) Session(_ context.Context) (*services.Session, error) {
	return &services.Session{Address: "0x00000000000000000000000000000000c4a11f10"}, nil
}

func TestDeployHandler_MissingABI(t *testing.T) {
	h := NewDeployHandler(services.NewSimulatedDeployer("localnet"))

	// Compile artifact carries bytecode but no abi field.
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"bytecode":"0x6001"}`),
	}

	_, err := h.Execute(context.Background(), Input{
		Node:   node("d1", schema.KindDeploy),
		Lookup: lookup,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
	assert.Contains(t, err.Error(), "ABI")
}

func TestDeployHandler_NullABI(t *testing.T) {
	h := NewDeployHandler(services.NewSimulatedDeployer("localnet"))
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"abi":null,"bytecode":"0x6001"}`),
	}

	_, err := h.Execute(context.Background(), Input{
		Node:   node("d1", schema.KindDeploy),
		Lookup: lookup,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
}

func TestDeployHandler_NoNetworkAnywhere(t *testing.T) {
	h := NewDeployHandler(&networklessDeployer{})
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"abi":[],"bytecode":"0x6002"}`),
	}

	// Neither the payload nor the wallet session names a network.
	_, err := h.Execute(context.Background(), Input{
		Node:   node("d1", schema.KindDeploy),
		Lookup: lookup,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
	assert.Contains(t, err.Error(), "network")

	// A payload network is enough when the session has none.
	out, err := h.Execute(context.Background(), Input{
		Node:    node("d1", schema.KindDeploy),
		Payload: json.RawMessage(`{"network":"sepolia"}`),
		Lookup:  lookup,
	})
	require.NoError(t, err)

	var receipt schema.DeployReceipt
	require.NoError(t, json.Unmarshal(out.Data, &receipt))
	assert.Equal(t, "sepolia", receipt.Network)
}

func TestDeployHandler_NetworkMismatch(t *testing.T) {
	h := NewDeployHandler(services.NewSimulatedDeployer("localnet"))
	lookup := mapLookup{
		schema.KindCompile: json.RawMessage(`{"abi":[],"bytecode":"0x6002"}`),
	}

	_, err := h.Execute(context.Background(), Input{
		Node:    node("d1", schema.KindDeploy),
		Payload: json.RawMessage(`{"network":"mainnet"}`),
		Lookup:  lookup,
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))
}

func TestAuditHandler_DefaultsPrompt(t *testing.T) {
	h := NewAuditHandler(services.NewSimulatedAuditor())
	lookup := mapLookup{
		schema.KindSourceInput: json.RawMessage(`{"source":"contract C { }","name":"C.sol"}`),
	}

	out, err := h.Execute(context.Background(), Input{
		Node:   node("a1", schema.KindAIAudit),
		Lookup: lookup,
	})
	require.NoError(t, err)

	var report schema.AuditReport
	require.NoError(t, json.Unmarshal(out.Data, &report))
	assert.Equal(t, DefaultAuditPrompt, report.Prompt)
	assert.NotEmpty(t, report.Analysis)
}

func TestCompletionHandler(t *testing.T) {
	h := NewCompletionHandler()

	out, err := h.Execute(context.Background(), Input{
		Node:      node("done", schema.KindCompletion),
		Summarize: func() string { return "report body" },
	})
	require.NoError(t, err)

	var co CompletionOutput
	require.NoError(t, json.Unmarshal(out.Data, &co))
	assert.Equal(t, "report body", co.Summary)

	// No renderer wired: still succeeds.
	out, err = h.Execute(context.Background(), Input{Node: node("done", schema.KindCompletion)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out.Data, &co))
	assert.Empty(t, co.Summary)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg, Services{
		Compiler: services.NewSimulatedCompiler(),
		Deployer: services.NewSimulatedDeployer(""),
		Auditor:  services.NewSimulatedAuditor(),
		Syntax:   services.NewLocalSyntax(),
	}))

	// Every kind in the closed set is covered.
	for _, kind := range schema.Kinds() {
		h, err := reg.Get(kind)
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, h.Kind())
	}

	assert.Len(t, reg.List(), len(schema.Kinds()))

	err := reg.Register(NewProjectHandler())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, errCode(t, err))

	_, err = reg.Get(schema.NodeKind("bogus"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUnknownKind, errCode(t, err))
}
