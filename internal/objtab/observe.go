package objtab

import (
	"errors"

	"code.hybscloud.com/wlappidproxy/internal/wire"
)

// Opcodes this proxy inspects, named after the Wayland requests/events they
// number. Request and event opcode spaces are independent per interface, so
// a request opcode and an event opcode on different interfaces can share a
// numeric value without meaning the same thing.
const (
	opGetRegistry   uint16 = 1 // wl_display.get_registry (request)
	opDeleteID      uint16 = 1 // wl_display.delete_id (event)
	opBind          uint16 = 0 // wl_registry.bind (request)
	opGlobal        uint16 = 0 // wl_registry.global (event)
	opGetXdgSurface uint16 = 2 // xdg_wm_base.get_xdg_surface (request)
	opGetToplevel   uint16 = 1 // xdg_surface.get_toplevel (request)
	opSetAppID      uint16 = 3 // xdg_toplevel.set_app_id (request)
)

// MaxSupportedVersion is the highest xdg-shell interface version this proxy
// understands. A tracked object bound at a higher version is a protocol
// condition this proxy declines to handle.
const MaxSupportedVersion = 6

// ErrUnsupportedVersion reports a tracked xdg_wm_base/xdg_surface/
// xdg_toplevel object whose interface version exceeds MaxSupportedVersion.
var ErrUnsupportedVersion = errors.New("objtab: interface version exceeds supported range")

func checkVersion(v uint32) error {
	if v > MaxSupportedVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// Action reports what the relay layer should do after ObserveClientRequest
// has updated the table.
type Action uint8

const (
	// ActionNone means the packet needs no further handling beyond ordinary
	// forwarding.
	ActionNone Action = iota
	// ActionRewriteAppID means pkt is a set_app_id request on a tracked
	// xdg_toplevel and its body must be rewritten before forwarding.
	ActionRewriteAppID
)

// ObserveClientRequest inspects a client->server request, updating t and reg
// when it creates or targets a tracked object. It never touches pkt.Body
// beyond decoding arguments to learn ids; the caller is responsible for any
// rewrite ObserveClientRequest reports.
func ObserveClientRequest(t *Table, reg *Registry, pkt wire.Packet) (Action, error) {
	entry, ok := t.Get(pkt.ID)
	if !ok {
		return ActionNone, nil
	}

	switch entry.Kind {
	case KindDisplay:
		if pkt.Opcode != opGetRegistry {
			return ActionNone, nil
		}
		newID, _, err := wire.DecodeUint32(pkt.Body)
		if err != nil {
			return ActionNone, err
		}
		t.Set(newID, Entry{Kind: KindRegistry})

	case KindRegistry:
		if pkt.Opcode != opBind {
			return ActionNone, nil
		}
		name, rest, err := wire.DecodeUint32(pkt.Body)
		if err != nil {
			return ActionNone, err
		}
		iface, _, rest, err := wire.DecodeString(rest)
		if err != nil {
			return ActionNone, err
		}
		version, rest, err := wire.DecodeUint32(rest)
		if err != nil {
			return ActionNone, err
		}
		newID, _, err := wire.DecodeUint32(rest)
		if err != nil {
			return ActionNone, err
		}
		if wmBase, known := reg.WmBase(); known && iface == "xdg_wm_base" && wmBase.TypeID == name {
			t.Set(newID, Entry{Kind: KindXdgWmBase, Version: version})
		}

	case KindXdgWmBase:
		if pkt.Opcode != opGetXdgSurface {
			return ActionNone, nil
		}
		if err := checkVersion(entry.Version); err != nil {
			return ActionNone, err
		}
		newID, _, err := wire.DecodeUint32(pkt.Body)
		if err != nil {
			return ActionNone, err
		}
		t.Set(newID, Entry{Kind: KindXdgSurface, Version: entry.Version})

	case KindXdgSurface:
		if pkt.Opcode != opGetToplevel {
			return ActionNone, nil
		}
		if err := checkVersion(entry.Version); err != nil {
			return ActionNone, err
		}
		newID, _, err := wire.DecodeUint32(pkt.Body)
		if err != nil {
			return ActionNone, err
		}
		t.Set(newID, Entry{Kind: KindXdgToplevel, Version: entry.Version})

	case KindXdgToplevel:
		if pkt.Opcode != opSetAppID {
			return ActionNone, nil
		}
		if err := checkVersion(entry.Version); err != nil {
			return ActionNone, err
		}
		return ActionRewriteAppID, nil
	}
	return ActionNone, nil
}

// ObserveServerEvent inspects a server->client event, removing delete_id
// targets from t and learning the xdg_wm_base global name/version from
// wl_registry.global events into reg.
func ObserveServerEvent(t *Table, reg *Registry, pkt wire.Packet) error {
	if entry, ok := t.Get(pkt.ID); ok && entry.Kind == KindDisplay && pkt.Opcode == opDeleteID {
		id, _, err := wire.DecodeUint32(pkt.Body)
		if err != nil {
			return err
		}
		t.Delete(id)
		return nil
	}

	isRegistry := reg.isKnownID(pkt.ID)
	if !isRegistry {
		if entry, ok := t.Get(pkt.ID); ok && entry.Kind == KindRegistry {
			reg.noteID(pkt.ID)
			isRegistry = true
		}
	}
	if !isRegistry || pkt.Opcode != opGlobal {
		return nil
	}

	name, rest, err := wire.DecodeUint32(pkt.Body)
	if err != nil {
		return err
	}
	iface, _, rest, err := wire.DecodeString(rest)
	if err != nil {
		return err
	}
	version, _, err := wire.DecodeUint32(rest)
	if err != nil {
		return err
	}
	reg.LearnGlobal(name, iface, version)
	return nil
}
