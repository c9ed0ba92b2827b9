// Package pluginhost loads and invokes drop-in XRM plugins, the
// Go-idiomatic analogue of a dlopen/exported-struct plugin contract.
package pluginhost

import (
	"context"
	"fmt"
	"plugin"
	"sync"

	"k8s.io/klog/v2"
)

// MaxFuncID is the highest valid plugin function id.
const MaxFuncID = 7

// MaxPlugins is the compile-time plugin slot ceiling.
const MaxPlugins = 32

// Info describes one loaded plugin, returned by List.
type Info struct {
	Name          string
	Path          string
	APIVersion    int32
	PluginVersion int32
}

// pluginFunc is the shape every exported plugin entry must satisfy.
type pluginFunc func(string) int32

type loadedPlugin struct {
	info  Info
	funcs [MaxFuncID + 1]pluginFunc
}

// Host loads .so plugins by path and invokes their numbered entry points.
type Host interface {
	Load(ctx context.Context, name, path string) error
	Unload(ctx context.Context, name string) error
	Call(ctx context.Context, name string, funcID int32, param string) (int32, error)
	List() []Info
}

type host struct {
	mu      sync.Mutex
	plugins map[string]*loadedPlugin
}

// New returns a Host with no plugins loaded.
func New() Host {
	return &host{plugins: make(map[string]*loadedPlugin)}
}

// Load opens the .so at path and registers it under name, reading its
// APIVersion, PluginVersion and up to 8 Func0..Func7 symbols. Any symbol
// not exported is simply absent from the loaded plugin's table (the
// original's tolerance for missing version-dependent entries).
func (h *host) Load(_ context.Context, name, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.plugins[name]; exists {
		return fmt.Errorf("pluginhost: plugin %q already loaded", name)
	}
	if len(h.plugins) >= MaxPlugins {
		return fmt.Errorf("pluginhost: plugin slots exhausted (max %d)", MaxPlugins)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("pluginhost: open %q: %w", path, err)
	}

	lp := &loadedPlugin{info: Info{Name: name, Path: path}}
	if sym, err := p.Lookup("APIVersion"); err == nil {
		if v, ok := sym.(*int32); ok {
			lp.info.APIVersion = *v
		}
	}
	if sym, err := p.Lookup("PluginVersion"); err == nil {
		if v, ok := sym.(*int32); ok {
			lp.info.PluginVersion = *v
		}
	}
	for i := 0; i <= MaxFuncID; i++ {
		symName := fmt.Sprintf("Func%d", i)
		sym, err := p.Lookup(symName)
		if err != nil {
			continue
		}
		if fn, ok := sym.(func(string) int32); ok {
			lp.funcs[i] = fn
		}
	}

	h.plugins[name] = lp
	klog.InfoS("plugin loaded", "name", name, "path", path, "apiVersion", lp.info.APIVersion)
	return nil
}

// Unload drops a previously loaded plugin. Go's plugin package has no
// unload primitive; Unload only removes the daemon's reference so the
// name can be reused by a later Load of a different path.
func (h *host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.plugins[name]; !ok {
		return fmt.Errorf("pluginhost: plugin %q not loaded", name)
	}
	delete(h.plugins, name)
	return nil
}

// Call invokes funcID on plugin name with param, returning its int32
// result — the execXrmPluginFunc verb's backend.
func (h *host) Call(_ context.Context, name string, funcID int32, param string) (int32, error) {
	h.mu.Lock()
	lp, ok := h.plugins[name]
	h.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("pluginhost: plugin %q not loaded", name)
	}
	if funcID < 0 || int(funcID) > MaxFuncID {
		return 0, fmt.Errorf("pluginhost: function id %d out of range", funcID)
	}
	fn := lp.funcs[funcID]
	if fn == nil {
		return 0, fmt.Errorf("pluginhost: plugin %q has no function %d", name, funcID)
	}
	return fn(param), nil
}

// List returns the currently loaded plugins.
func (h *host) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.plugins))
	for _, lp := range h.plugins {
		out = append(out, lp.info)
	}
	return out
}
