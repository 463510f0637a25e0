// Package core provides the module system foundation for twm: a registry of
// optional service modules (gateway, sweeper, offload index) and the
// lifecycle that configures, starts, and stops them around the window engine.
package core

import "strings"

// ModuleID uniquely identifies a module, namespaced with dots
// (e.g. "gateway.http", "store.sqlite", "maintenance.sweeper").
type ModuleID string

// Namespace returns the portion of the ID before the last dot.
func (id ModuleID) Namespace() string {
	s := string(id)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[:i]
	}
	return ""
}

// Name returns the portion of the ID after the last dot.
func (id ModuleID) Name() string {
	s := string(id)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID is the unique module identifier.
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	New func() Module
}

// Module is the minimal interface every module implements.
type Module interface {
	ModuleInfo() ModuleInfo
}
