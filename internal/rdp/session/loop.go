package session

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

const workerThreadName = "rdpd_session"

// run is the worker body. It owns an OS thread for its lifetime and
// always ends with onClose.
func (s *Session) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setThreadName(workerThreadName)

	reason := "unknown"
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session worker panicked", "panic", r, "stack", string(debug.Stack()))
			reason = "panic"
		}
		s.log.Debug("closing session", "reason", reason)
		s.onClose(reason)
	}()

	s.setState(StateRunning)
	reason = s.loop(ctx)
}

// loop runs until cancellation or a fatal condition and returns why it
// stopped.
func (s *Session) loop(ctx context.Context) string {
	peer := s.peer
	vcm := peer.ChannelManager()
	channelEvent := vcm.EventHandle()
	events := make([]*engine.Event, 0, engine.MaxWaitHandles)

	for {
		handles, err := peer.EventHandles(engine.MaxWaitHandles - 1)
		if err != nil || len(handles) == 0 {
			s.log.Debug("unable to get transport event handles", "error", err)
			return "transport_closed"
		}

		events = append(events[:0], channelEvent)
		events = append(events, handles...)
		if _, err := engine.Wait(ctx, events); err != nil {
			return "cancelled"
		}

		if err := peer.CheckFileDescriptor(); err != nil {
			s.log.Debug("unable to check file descriptor", "error", err)
			return "transport_error"
		}

		if err := s.channels.tick(peer.Connected()); err != nil {
			s.log.Warn("auxiliary channel setup failed", "error", err)
			if errors.Is(err, errVideoInit) {
				s.Close(CloseReasonVideoInitFailed)
				return "video_init_failed"
			}
			return "clipboard_init_failed"
		}

		if channelEvent.IsSet() {
			if err := vcm.CheckFileDescriptor(); err != nil {
				s.log.Debug("unable to check virtual channel manager, closing connection", "error", err)
				return "channel_manager_error"
			}
		}

		s.subs.Network.Update()

		if ctx.Err() != nil {
			return "cancelled"
		}
	}
}
