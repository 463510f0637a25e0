package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept configuration.
// Called after instantiation and before Provision(). The node contains the
// raw parsed config for this module's section (the token-window.json file is
// parsed with the YAML decoder, which accepts JSON).
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after configuration.
// This is where modules set defaults, open resources, and register services
// on the AppContext for cross-module discovery.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration is
// complete and correct. Called after Provision(). Validate must be read-only.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that start background work (listeners,
// goroutines). Called after all modules are provisioned and validated.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules that clean up resources. Called during
// shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}
