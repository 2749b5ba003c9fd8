package h2c

import "golang.org/x/net/http2"

// Settings mirrors the seven HTTP/2 SETTINGS parameters this core tracks,
// one copy for the local side and one for the remote side of a Connection.
// Zero value is not meaningful; always obtain one from DefaultSettings.
type Settings struct {
	HeaderTableSize       uint32
	EnablePush            bool
	MaxConcurrentStreams  uint32
	InitialWindowSize     uint32
	MaxFrameSize          uint32
	MaxHeaderListSize     uint32
	EnableConnectProtocol bool
}

// DefaultSettings returns the RFC 7540 default values. Both the local and
// remote sides of a fresh Connection start here; the remote side becomes
// authoritative only once its SETTINGS frame is received and acknowledged.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 1<<32 - 1, // "unlimited" per RFC 7540 §6.5.2
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    1<<32 - 1, // "unlimited"
	}
}

const (
	minMaxFrameSize = 1 << 14
	maxMaxFrameSize = 1<<24 - 1
)

// applySetting validates and applies one SETTINGS parameter to s, returning
// a protocol_error if the value is out of the range the RFC (or, where the
// RFC is silent, this implementation's own chosen bound) allows. When it
// returns an error s is left unmodified for that single parameter.
func (s *Settings) applySetting(id http2.SettingID, val uint32) *HTTP2Error {
	switch id {
	case http2.SettingHeaderTableSize:
		s.HeaderTableSize = val
	case http2.SettingEnablePush:
		if val != 0 && val != 1 {
			return errProtocol("SETTINGS_ENABLE_PUSH must be 0 or 1")
		}
		s.EnablePush = val == 1
	case http2.SettingMaxConcurrentStreams:
		s.MaxConcurrentStreams = val
	case http2.SettingInitialWindowSize:
		if val > 0x7fffffff {
			return errProtocol("SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
		}
		s.InitialWindowSize = val
	case http2.SettingMaxFrameSize:
		if val < minMaxFrameSize || val > maxMaxFrameSize {
			return errProtocol("SETTINGS_MAX_FRAME_SIZE out of range [2^14, 2^24-1]")
		}
		s.MaxFrameSize = val
	case http2.SettingMaxHeaderListSize:
		s.MaxHeaderListSize = val
	case settingEnableConnectProtocol:
		if val != 0 && val != 1 {
			return errProtocol("SETTINGS_ENABLE_CONNECT_PROTOCOL must be 0 or 1")
		}
		s.EnableConnectProtocol = val == 1
	default:
		// unknown settings are ignored per RFC 7540 §6.5.2
	}
	return nil
}

// settingEnableConnectProtocol is RFC 8441's extension setting; x/net/http2
// does not export a constant for it.
const settingEnableConnectProtocol = http2.SettingID(0x8)

// settingsFieldNames maps the seven tracked settings' key names to their
// wire ids, used to validate and translate PutSettings/GetServerSetting
// calls.
var settingsFieldNames = map[string]http2.SettingID{
	"header_table_size":        http2.SettingHeaderTableSize,
	"enable_push":               http2.SettingEnablePush,
	"max_concurrent_streams":    http2.SettingMaxConcurrentStreams,
	"initial_window_size":       http2.SettingInitialWindowSize,
	"max_frame_size":            http2.SettingMaxFrameSize,
	"max_header_list_size":      http2.SettingMaxHeaderListSize,
	"enable_connect_protocol":   settingEnableConnectProtocol,
}

func (s Settings) get(key string) (uint32, bool) {
	switch key {
	case "header_table_size":
		return s.HeaderTableSize, true
	case "enable_push":
		return boolToUint32(s.EnablePush), true
	case "max_concurrent_streams":
		return s.MaxConcurrentStreams, true
	case "initial_window_size":
		return s.InitialWindowSize, true
	case "max_frame_size":
		return s.MaxFrameSize, true
	case "max_header_list_size":
		return s.MaxHeaderListSize, true
	case "enable_connect_protocol":
		return boolToUint32(s.EnableConnectProtocol), true
	default:
		return 0, false
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// diffFromDefault returns the http2.Setting entries where s differs from
// DefaultSettings, suitable for an outbound SETTINGS frame — we only ever
// advertise non-default values.
func (s Settings) diffFromDefault() []http2.Setting {
	def := DefaultSettings()
	var out []http2.Setting
	if s.HeaderTableSize != def.HeaderTableSize {
		out = append(out, http2.Setting{ID: http2.SettingHeaderTableSize, Val: s.HeaderTableSize})
	}
	if s.EnablePush != def.EnablePush {
		out = append(out, http2.Setting{ID: http2.SettingEnablePush, Val: boolToUint32(s.EnablePush)})
	}
	if s.MaxConcurrentStreams != def.MaxConcurrentStreams {
		out = append(out, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: s.MaxConcurrentStreams})
	}
	if s.InitialWindowSize != def.InitialWindowSize {
		out = append(out, http2.Setting{ID: http2.SettingInitialWindowSize, Val: s.InitialWindowSize})
	}
	if s.MaxFrameSize != def.MaxFrameSize {
		out = append(out, http2.Setting{ID: http2.SettingMaxFrameSize, Val: s.MaxFrameSize})
	}
	if s.MaxHeaderListSize != def.MaxHeaderListSize {
		out = append(out, http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: s.MaxHeaderListSize})
	}
	if s.EnableConnectProtocol != def.EnableConnectProtocol {
		out = append(out, http2.Setting{ID: settingEnableConnectProtocol, Val: boolToUint32(s.EnableConnectProtocol)})
	}
	return out
}
