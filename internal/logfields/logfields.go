package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyUnit       = "unit"
	KeyKind       = "kind"
	KeyStage      = "stage"
	KeyRule       = "rule"
	KeyEntry      = "entry"
	KeyBundle     = "bundle"
	KeyOutput     = "output"
	KeyPath       = "path"
	KeyState      = "state"
	KeyDurationMS = "duration_ms"
	KeyCount      = "count"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func Unit(path string) slog.Attr       { return slog.String(KeyUnit, path) }
func Kind(k string) slog.Attr          { return slog.String(KeyKind, k) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Rule(name string) slog.Attr       { return slog.String(KeyRule, name) }
func Entry(name string) slog.Attr      { return slog.String(KeyEntry, name) }
func Bundle(name string) slog.Attr     { return slog.String(KeyBundle, name) }
func Output(path string) slog.Attr     { return slog.String(KeyOutput, path) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
