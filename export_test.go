package glycin

import (
	"context"

	"github.com/Skryldev/glycin/core"
	"github.com/Skryldev/glycin/sandbox"
)

// SetLaunchSandboxForTest overrides how Request launches the worker process,
// letting glycin_test substitute an in-process fake worker for a real
// bwrap child. Restore with the returned func.
func SetLaunchSandboxForTest(f func(ctx context.Context, execPath, baseDir string, exposeBaseDir bool, mech sandbox.Mechanism) (sandbox.ProcessHandle, error)) func() {
	prev := launchSandbox
	launchSandbox = f
	return func() { launchSandbox = prev }
}

// SetRegistryResolverForTest overrides how Request resolves the loader
// registry, letting glycin_test supply entries without touching the
// process-wide config cache. Restore with the returned func.
func SetRegistryResolverForTest(f func(apiVersion int, logger core.Logger) (*core.LoaderRegistry, error)) func() {
	prev := resolveRegistry
	resolveRegistry = f
	return func() { resolveRegistry = prev }
}
