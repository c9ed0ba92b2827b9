// Package dispatch maps wire verb names to handlers that parse a request's
// parameters, call the allocator, and build a response. One handler per
// verb, looked up in a plain name-to-handler map.
package dispatch

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/imageloader"
	"github.com/cu-fleet/curmd/internal/pluginhost"
	"github.com/cu-fleet/curmd/internal/wire"
)

// Handler parses req's parameters, does the work, and returns the
// response to write back.
type Handler func(ctx context.Context, d *Dispatcher, req wire.Request) wire.Response

// Dispatcher owns the verb registry and the collaborators handlers call
// into.
type Dispatcher struct {
	Alloc   *allocator.Allocator
	Loader  imageloader.Loader
	Plugins pluginhost.Host
	Devices *imageloader.Handles

	handlers map[string]Handler
}

// New builds a Dispatcher with every verb registered. devices may be nil
// when no hardware handles exist (tests).
func New(alloc *allocator.Allocator, loader imageloader.Loader, plugins pluginhost.Host, devices *imageloader.Handles) *Dispatcher {
	if devices == nil {
		devices = imageloader.NewHandles()
	}
	d := &Dispatcher{Alloc: alloc, Loader: loader, Plugins: plugins, Devices: devices, handlers: make(map[string]Handler)}
	registerHandlers(d)
	return d
}

// Dispatch looks up req.Name and runs its handler, returning an
// invalid-argument response for an unknown verb.
func (d *Dispatcher) Dispatch(ctx context.Context, req wire.Request) wire.Response {
	h, ok := d.handlers[req.Name]
	if !ok {
		klog.V(3).InfoS("unknown verb", "name", req.Name)
		return wire.NewErrorResponse(req.Name, req.RequestID, fmt.Errorf("%w: unknown verb %q", catalogue.ErrInvalidArgument, req.Name))
	}
	return h(ctx, d, req)
}

func (d *Dispatcher) register(name string, h Handler) {
	d.handlers[name] = h
}
