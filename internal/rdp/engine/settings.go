package engine

// Settings is the engine's named-option store for one peer.
type Settings interface {
	Bool(key BoolKey) bool
	SetBool(key BoolKey, v bool) error
	Uint32(key Uint32Key) uint32
	SetUint32(key Uint32Key, v uint32) error
	String(key StringKey) string
	SetString(key StringKey, v string) error
}

type (
	BoolKey   string
	Uint32Key string
	StringKey string
)

const (
	RdpSecurity               BoolKey = "RdpSecurity"
	TlsSecurity               BoolKey = "TlsSecurity"
	NlaSecurity               BoolKey = "NlaSecurity"
	AudioPlayback             BoolKey = "AudioPlayback"
	SupportGraphicsPipeline   BoolKey = "SupportGraphicsPipeline"
	GfxAVC444                 BoolKey = "GfxAVC444"
	GfxAVC444v2               BoolKey = "GfxAVC444v2"
	GfxH264                   BoolKey = "GfxH264"
	GfxSmallCache             BoolKey = "GfxSmallCache"
	GfxThinClient             BoolKey = "GfxThinClient"
	HasExtendedMouseEvent     BoolKey = "HasExtendedMouseEvent"
	HasHorizontalWheel        BoolKey = "HasHorizontalWheel"
	UnicodeInput              BoolKey = "UnicodeInput"
	NetworkAutoDetect         BoolKey = "NetworkAutoDetect"
	RefreshRect               BoolKey = "RefreshRect"
	RemoteConsoleAudio        BoolKey = "RemoteConsoleAudio"
	RemoteFxCodec             BoolKey = "RemoteFxCodec"
	NSCodec                   BoolKey = "NSCodec"
	FrameMarkerCommandEnabled BoolKey = "FrameMarkerCommandEnabled"
	SurfaceFrameMarkerEnabled BoolKey = "SurfaceFrameMarkerEnabled"
	DesktopResize             BoolKey = "DesktopResize"
	AutoLogonEnabled          BoolKey = "AutoLogonEnabled"
)

const (
	ColorDepth       Uint32Key = "ColorDepth"
	OsMajorType      Uint32Key = "OsMajorType"
	OsMinorType      Uint32Key = "OsMinorType"
	PointerCacheSize Uint32Key = "PointerCacheSize"
)

const (
	Username StringKey = "Username"
	Password StringKey = "Password"
	Domain   StringKey = "Domain"
)

// OS type values for OsMajorType and OsMinorType.
const (
	OSMajorTypeUnix          uint32 = 4
	OSMinorTypePseudoXServer uint32 = 7
)
