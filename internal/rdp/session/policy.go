package session

import (
	"fmt"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

// The server only speaks H.264 (AVC420) over the graphics pipeline at
// 32bpp, so the engine is pinned to that whatever the client prefers.
var boolPolicy = []struct {
	key engine.BoolKey
	val bool
}{
	{engine.RdpSecurity, false},
	{engine.TlsSecurity, true},
	{engine.AudioPlayback, false},
	{engine.SupportGraphicsPipeline, true},
	{engine.GfxAVC444, false},
	{engine.GfxAVC444v2, false},
	{engine.GfxH264, true},
	{engine.GfxSmallCache, false},
	{engine.GfxThinClient, false},
	{engine.HasExtendedMouseEvent, true},
	{engine.HasHorizontalWheel, true},
	{engine.UnicodeInput, true},
	{engine.NetworkAutoDetect, true},
	{engine.RefreshRect, true},
	{engine.RemoteConsoleAudio, true},
	{engine.RemoteFxCodec, false},
	{engine.NSCodec, false},
	{engine.FrameMarkerCommandEnabled, true},
	{engine.SurfaceFrameMarkerEnabled, true},
}

var uint32Policy = []struct {
	key engine.Uint32Key
	val uint32
}{
	{engine.OsMajorType, engine.OSMajorTypeUnix},
	// Clients misbehave unless the server claims to be a pseudo X server.
	{engine.OsMinorType, engine.OSMinorTypePseudoXServer},
	{engine.ColorDepth, 32},
}

// applyPolicy writes the fixed settings table. NLA is the only
// configurable entry.
func applyPolicy(settings engine.Settings, nla bool) error {
	for _, p := range boolPolicy {
		if err := settings.SetBool(p.key, p.val); err != nil {
			return fmt.Errorf("set %s: %w", p.key, err)
		}
	}
	if err := settings.SetBool(engine.NlaSecurity, nla); err != nil {
		return fmt.Errorf("set %s: %w", engine.NlaSecurity, err)
	}
	for _, p := range uint32Policy {
		if err := settings.SetUint32(p.key, p.val); err != nil {
			return fmt.Errorf("set %s: %w", p.key, err)
		}
	}
	return nil
}
