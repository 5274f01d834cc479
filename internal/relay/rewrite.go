package relay

import (
	"code.hybscloud.com/wlappidproxy/internal/config"
	"code.hybscloud.com/wlappidproxy/internal/wire"
)

// rewriteSetAppID replaces the single string argument of an
// xdg_toplevel.set_app_id request with the configured app id, or with that
// app id prefixed onto the client's original value when cfg.PrefixMode is
// set. The packet's header length is never set here; wire.WritePacket
// always recomputes it from the returned body.
func rewriteSetAppID(cfg config.Config, pkt wire.Packet) (wire.Packet, error) {
	original, isNull, _, err := wire.DecodeString(pkt.Body)
	if err != nil {
		return wire.Packet{}, err
	}

	value := cfg.AppID
	if cfg.PrefixMode {
		if isNull {
			value = cfg.AppID
		} else {
			value = cfg.AppID + original
		}
	}

	body := wire.AppendString(nil, value, false)
	return wire.Packet{ID: pkt.ID, Opcode: pkt.Opcode, Body: body}, nil
}
