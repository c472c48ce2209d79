package config

import "context"

// SourceRegistry is the subset of sourceregistry.Registry the hot-reload
// pipeline needs: re-reading SourceDatabase descriptors and opening fresh
// pools for any that changed.
type SourceRegistry interface {
	ReloadAll(ctx context.Context) error
}

// PermissionMatrix is the subset of permissions.Matrix the hot-reload
// pipeline needs: re-reading the role/state action matrices from Postgres.
type PermissionMatrix interface {
	Reload(ctx context.Context) error
}

// sourceRegistryReloadable adapts SourceRegistry to Reloadable: whenever it
// is reloaded, §4.1's reloadAll() runs again regardless of which field
// changed. Its name, "sources", matches no Config section, so a config diff
// never lists it as affected; it runs only when a reload is given no
// component filter, as a rollback is.
type sourceRegistryReloadable struct {
	registry SourceRegistry
}

// NewSourceRegistryReloadable wraps a source registry for registration with
// a ConfigReloader.
func NewSourceRegistryReloadable(registry SourceRegistry) Reloadable {
	return &sourceRegistryReloadable{registry: registry}
}

func (r *sourceRegistryReloadable) Reload(ctx context.Context, _ *Config) error {
	return r.registry.ReloadAll(ctx)
}

func (r *sourceRegistryReloadable) Name() string { return "sources" }

func (r *sourceRegistryReloadable) IsCritical() bool { return true }

// permissionMatrixReloadable adapts PermissionMatrix to Reloadable.
type permissionMatrixReloadable struct {
	matrix PermissionMatrix
}

// NewPermissionMatrixReloadable wraps a permission matrix for registration
// with a ConfigReloader.
func NewPermissionMatrixReloadable(matrix PermissionMatrix) Reloadable {
	return &permissionMatrixReloadable{matrix: matrix}
}

func (r *permissionMatrixReloadable) Reload(ctx context.Context, _ *Config) error {
	return r.matrix.Reload(ctx)
}

func (r *permissionMatrixReloadable) Name() string { return "permissions" }

func (r *permissionMatrixReloadable) IsCritical() bool { return false }
