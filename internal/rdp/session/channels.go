package session

import (
	"errors"
	"log/slog"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

var (
	errVideoInit     = errors.New("video stream failed to initialize")
	errClipboardInit = errors.New("clipboard failed to initialize")
)

// channelSequencer starts the subsystems that ride on auxiliary channels
// once the engine reports those channels usable. Video waits for the
// dynamic channel transport to be ready; clipboard waits for its own
// static channel. Each initializer runs at most once per readiness.
type channelSequencer struct {
	vcm         engine.ChannelManager
	video       VideoStream
	clipboard   Clipboard
	log         *slog.Logger
	onStreaming func()

	videoStarted     bool
	clipboardStarted bool
}

func newChannelSequencer(vcm engine.ChannelManager, video VideoStream, clipboard Clipboard, log *slog.Logger, onStreaming func()) *channelSequencer {
	return &channelSequencer{
		vcm:         vcm,
		video:       video,
		clipboard:   clipboard,
		log:         log,
		onStreaming: onStreaming,
	}
}

// tick advances channel setup. A non-nil error is fatal for the session.
func (c *channelSequencer) tick(connected bool) error {
	if !connected {
		return nil
	}

	if c.vcm.IsChannelJoined(engine.ChannelDrdynvc) {
		switch state := c.vcm.DrdynvcState(); state {
		case engine.DrdynvcStateReady:
			if !c.videoStarted {
				c.videoStarted = true
				if !c.video.Initialize() {
					return errVideoInit
				}
				c.video.SetEnabled(true)
				c.onStreaming()
			}
		case engine.DrdynvcStateNone:
			c.videoStarted = false
			// The dynamic channel only bootstraps from the manager's own
			// descriptor check, so force one this iteration.
			c.vcm.EventHandle().Set()
		default:
			c.videoStarted = false
		}
	}

	if !c.clipboardStarted && c.vcm.IsChannelJoined(engine.ChannelCliprdr) {
		c.clipboardStarted = true
		if !c.clipboard.Initialize() {
			return errClipboardInit
		}
		c.log.Debug("clipboard initialized")
	}
	return nil
}
