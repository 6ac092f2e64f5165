package handlers

import (
	"context"
	"encoding/json"

	"github.com/solweave/chainflow/internal/services"
	"github.com/solweave/chainflow/pkg/schema"
)

// DeployHandler submits the compiled contract through the wallet/deploy
// service. ABI and bytecode come from the nearest extract nodes when the
// graph has them, falling back to the compile artifact itself.
type DeployHandler struct {
	deployer services.Deployer
}

// NewDeployHandler creates the deploy handler.
func NewDeployHandler(deployer services.Deployer) *DeployHandler {
	return &DeployHandler{deployer: deployer}
}

func (h *DeployHandler) Kind() schema.NodeKind {
	return schema.KindDeploy
}

func (h *DeployHandler) Describe() string {
	return "Deploys the compiled contract through the wallet session"
}

func (h *DeployHandler) Execute(ctx context.Context, in Input) (*Output, error) {
	var payload schema.DeployPayload
	if err := unmarshalPayload(in.Payload, &payload); err != nil {
		return nil, err
	}

	abi, bytecode, err := h.resolveArtifact(in)
	if err != nil {
		return nil, err
	}
	if bytecode == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "no bytecode available to deploy")
	}
	if emptyABI(abi) {
		return nil, schema.NewError(schema.ErrCodeValidation, "no ABI available to deploy")
	}

	sess, err := h.deployer.Session(ctx)
	if err != nil {
		return nil, err
	}

	network := payload.Network
	if network == "" {
		network = sess.Network
	} else if sess.Network != "" && network != sess.Network {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"requested network %q does not match wallet session network %q", network, sess.Network)
	}
	if network == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"no target network: neither the deploy payload nor the wallet session names one")
	}

	result, err := h.deployer.Deploy(ctx, services.DeployRequest{
		ABI:             abi,
		Bytecode:        bytecode,
		ConstructorArgs: parseConstructorArgs(payload.ConstructorArgs),
		Network:         network,
	})
	if err != nil {
		return nil, err
	}

	return marshalOutput(schema.DeployReceipt{
		ContractAddress: result.ContractAddress,
		TransactionHash: result.TransactionHash,
		Network:         network,
	})
}

// resolveArtifact gathers ABI and bytecode from the node's ancestry.
// Dedicated extract nodes win; otherwise both come from the compile artifact.
func (h *DeployHandler) resolveArtifact(in Input) (json.RawMessage, string, error) {
	var abi json.RawMessage
	var bytecode string

	if raw, err := in.Lookup.UpstreamOutput(in.Node.ID, schema.KindExtractABI); err == nil {
		var out struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &out); err == nil {
			abi = out.ABI
		}
	}

	if raw, err := in.Lookup.UpstreamOutput(in.Node.ID, schema.KindExtractBytecode); err == nil {
		var out struct {
			Bytecode string `json:"bytecode"`
		}
		if err := json.Unmarshal(raw, &out); err == nil {
			bytecode = out.Bytecode
		}
	}

	if abi != nil && bytecode != "" {
		return abi, bytecode, nil
	}

	raw, err := in.Lookup.UpstreamOutput(in.Node.ID, schema.KindCompile)
	if err != nil {
		return nil, "", err
	}
	var artifact schema.CompileArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, "", schema.NewError(schema.ErrCodeValidation, "upstream compile output is malformed").WithCause(err)
	}

	if abi == nil {
		abi = artifact.ABI
	}
	if bytecode == "" {
		bytecode = artifact.Bytecode
	}
	return abi, bytecode, nil
}

// emptyABI reports whether a resolved ABI carries no usable content.
// JSON null counts as empty: a compile artifact without an "abi" field
// unmarshals to nil, and an explicit null is no better.
func emptyABI(abi json.RawMessage) bool {
	return len(abi) == 0 || string(abi) == "null"
}

// parseConstructorArgs best-effort parses constructor arguments as a JSON
// array. Any other shape deploys with no arguments.
func parseConstructorArgs(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	var args []any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}

var _ Handler = (*DeployHandler)(nil)
