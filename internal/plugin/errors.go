package plugin

import "errors"

// Domain-specific errors for the plugin package.
var (
	// ErrPluginLoad is returned for a manifest that could not be turned into
	// an active plugin. It never stops the remaining plugins from loading.
	ErrPluginLoad = errors.New("plugin: load failed")

	// ErrHookTimeout is returned when a hook exceeds the hook timeout.
	ErrHookTimeout = errors.New("plugin: hook timed out")

	// ErrHookPanic is returned when a hook panics.
	ErrHookPanic = errors.New("plugin: hook panicked")

	// ErrUnknownKind is returned for a manifest kind missing from the catalog.
	ErrUnknownKind = errors.New("plugin: unknown kind")

	// ErrDuplicateName is returned when two plugins share a name.
	ErrDuplicateName = errors.New("plugin: duplicate name")

	// ErrMissingDependency is returned by factories whose backend is disabled.
	ErrMissingDependency = errors.New("plugin: required dependency not configured")

	// ErrInvalidManifest is returned for a manifest that fails to parse.
	ErrInvalidManifest = errors.New("plugin: invalid manifest")
)
