package handlers

import (
	"github.com/solweave/chainflow/internal/expressions"
	"github.com/solweave/chainflow/internal/services"
)

// Services bundles the delegated collaborators the handlers depend on.
type Services struct {
	Compiler services.Compiler
	Deployer services.Deployer
	Auditor  services.Auditor
	Syntax   services.Syntax
}

// RegisterDefaults wires one handler per node kind into the registry.
func RegisterDefaults(reg *Registry, svcs Services) error {
	jq := expressions.NewGoJQEngine()

	all := []Handler{
		NewProjectHandler(),
		NewSourceHandler(svcs.Syntax),
		NewCompileHandler(svcs.Compiler),
		NewExtractABIHandler(jq),
		NewExtractBytecodeHandler(jq),
		NewDeployHandler(svcs.Deployer),
		NewAuditHandler(svcs.Auditor),
		NewCompletionHandler(),
	}

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
