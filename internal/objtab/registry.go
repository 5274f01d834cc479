package objtab

import "sync"

// XdgWmBaseGlobal is the compositor-assigned numeric name and advertised
// version for the "xdg_wm_base" global, learned from a wl_registry.global
// event.
type XdgWmBaseGlobal struct {
	TypeID  uint32
	Version uint32
}

// Registry caches registry-related state that the client->server bind rule
// needs: the numeric global name the compositor assigned to "xdg_wm_base",
// and (as an optimization) the object id of the registry itself once it has
// been observed on the server->client path, so later events on that id skip
// a table lookup.
type Registry struct {
	mu         sync.Mutex
	knownID    uint32
	hasKnownID bool
	wmBase     *XdgWmBaseGlobal
}

// NewRegistry returns an empty registry cache.
func NewRegistry() *Registry {
	return &Registry{}
}

// noteID records id as the registry's object id, the first time it is
// called. Subsequent calls are no-ops: the registry is bound exactly once
// per well-behaved connection, so first-observed wins.
func (r *Registry) noteID(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasKnownID {
		r.knownID = id
		r.hasKnownID = true
	}
}

func (r *Registry) isKnownID(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasKnownID && r.knownID == id
}

// LearnGlobal records the (name, version) pair for the "xdg_wm_base"
// interface the first time it is advertised. Globals for any other
// interface, or subsequent globals for "xdg_wm_base", are ignored.
func (r *Registry) LearnGlobal(name uint32, iface string, version uint32) {
	if iface != "xdg_wm_base" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wmBase == nil {
		r.wmBase = &XdgWmBaseGlobal{TypeID: name, Version: version}
	}
}

// WmBase returns the cached xdg_wm_base global, if one has been learned.
func (r *Registry) WmBase() (XdgWmBaseGlobal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wmBase == nil {
		return XdgWmBaseGlobal{}, false
	}
	return *r.wmBase, true
}
