package evm

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
)

// This file provides a registry for Engine implementations.
//
// The registry is intended to be used by all client code that needs
// symbolic execution services. For an implementation to be available it
// needs to be registered, typically as part of the init code of the
// package providing the implementation. Thus, by importing the binding
// package, engine implementations become available in this central
// registry. Workers that require exclusive engine instances create one
// each through NewEngine.

// EngineFactory is the type of a function creating a new Engine using an
// engine-specific configuration.
type EngineFactory func(config any) (Engine, error)

// NewEngine performs a lookup for the given name (case-insensitive) in
// the registry and creates a new Engine using the given optional
// configuration. If no configuration is provided, the implementation uses
// its default configuration. An error is returned if no factory was
// registered under the given name.
func NewEngine(name string, config ...any) (Engine, error) {
	if len(config) > 1 {
		return nil, fmt.Errorf("invalid configuration: too many arguments")
	}
	factory := GetEngineFactory(name)
	if factory == nil {
		return nil, fmt.Errorf("engine not found: %s", name)
	}
	c := any(nil)
	if len(config) > 0 {
		c = config[0]
	}
	return factory(c)
}

// GetEngineFactory performs a lookup for the given name
// (case-insensitive) in the registry. The result is nil if no factory was
// registered under the given name.
func GetEngineFactory(name string) EngineFactory {
	engineRegistryLock.Lock()
	defer engineRegistryLock.Unlock()
	return engineRegistry[strings.ToLower(name)]
}

// GetAllRegisteredEngines obtains all registered implementations.
func GetAllRegisteredEngines() map[string]EngineFactory {
	engineRegistryLock.Lock()
	defer engineRegistryLock.Unlock()
	return maps.Clone(engineRegistry)
}

// RegisterEngineFactory registers a new Engine implementation to be
// exported for general use in the binary. The name is not case-sensitive;
// an error is returned if a factory was bound to the same name before or
// the factory is nil. This function is mainly intended to be used by
// package initialization code.
func RegisterEngineFactory(name string, factory EngineFactory) error {
	key := strings.ToLower(name)
	if factory == nil {
		return fmt.Errorf("invalid initialization: cannot register nil-factory using `%s`", key)
	}
	engineRegistryLock.Lock()
	defer engineRegistryLock.Unlock()
	if _, found := engineRegistry[key]; found {
		return fmt.Errorf("invalid initialization: multiple factories registered for `%s`", key)
	}
	engineRegistry[key] = factory
	return nil
}

// engineRegistry is a global registry for Engine factories of different
// implementations and configurations.
var engineRegistry = map[string]EngineFactory{}

// engineRegistryLock to protect access to the registry.
var engineRegistryLock sync.Mutex
