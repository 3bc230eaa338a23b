package session

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine/enginetest"
)

func newTestSequencer() (*channelSequencer, *enginetest.ChannelManager, *fakeVideo, *fakeClipboard, *int) {
	vcm := enginetest.NewChannelManager()
	video := &fakeVideo{}
	clip := &fakeClipboard{}
	streaming := 0
	seq := newChannelSequencer(vcm, video, clip, logging.L("test"), func() { streaming++ })
	return seq, vcm, video, clip, &streaming
}

func TestChannels_NothingBeforeConnected(t *testing.T) {
	seq, vcm, video, clip, _ := newTestSequencer()
	vcm.Join(engine.ChannelDrdynvc)
	vcm.Join(engine.ChannelCliprdr)
	vcm.SetDrdynvcState(engine.DrdynvcStateReady)

	if err := seq.tick(false); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if video.inits.Load() != 0 || clip.inits.Load() != 0 {
		t.Fatal("nothing should start before the peer is connected")
	}
}

func TestChannels_DrdynvcMustBeJoined(t *testing.T) {
	seq, vcm, video, _, _ := newTestSequencer()
	vcm.SetDrdynvcState(engine.DrdynvcStateReady)

	seq.tick(true)
	if video.inits.Load() != 0 {
		t.Fatal("video must wait for drdynvc to join")
	}
}

func TestChannels_VideoOncePerReadyEpisode(t *testing.T) {
	seq, vcm, video, _, streaming := newTestSequencer()
	vcm.Join(engine.ChannelDrdynvc)
	vcm.SetDrdynvcState(engine.DrdynvcStateReady)

	for i := 0; i < 3; i++ {
		if err := seq.tick(true); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if video.inits.Load() != 1 || *streaming != 1 {
		t.Fatalf("inits=%d streaming=%d, want 1/1", video.inits.Load(), *streaming)
	}

	vcm.SetDrdynvcState(engine.DrdynvcStateCapabilities)
	seq.tick(true)
	vcm.SetDrdynvcState(engine.DrdynvcStateReady)
	seq.tick(true)
	seq.tick(true)
	if video.inits.Load() != 2 {
		t.Fatalf("inits = %d, want 2 after a new ready episode", video.inits.Load())
	}
}

func TestChannels_NoneStateWakesChannelManager(t *testing.T) {
	seq, vcm, video, _, _ := newTestSequencer()
	vcm.Join(engine.ChannelDrdynvc)
	vcm.CheckFileDescriptor()
	if vcm.EventHandle().IsSet() {
		t.Fatal("event should start reset")
	}

	seq.tick(true)
	if !vcm.EventHandle().IsSet() {
		t.Fatal("none state should set the channel manager event")
	}
	if video.inits.Load() != 0 {
		t.Fatal("video must not start in the none state")
	}
}

func TestChannels_VideoFailure(t *testing.T) {
	seq, vcm, video, _, streaming := newTestSequencer()
	video.fail = true
	vcm.Join(engine.ChannelDrdynvc)
	vcm.SetDrdynvcState(engine.DrdynvcStateReady)

	if err := seq.tick(true); !errors.Is(err, errVideoInit) {
		t.Fatalf("tick = %v, want errVideoInit", err)
	}
	if *streaming != 0 || video.enabled.Load() {
		t.Fatal("failed video must not enter streaming")
	}
}

func TestChannels_ClipboardOnce(t *testing.T) {
	seq, vcm, _, clip, _ := newTestSequencer()
	seq.tick(true)
	if clip.inits.Load() != 0 {
		t.Fatal("clipboard must wait for cliprdr")
	}

	vcm.Join(engine.ChannelCliprdr)
	for i := 0; i < 4; i++ {
		seq.tick(true)
	}
	if clip.inits.Load() != 1 {
		t.Fatalf("clipboard inits = %d, want 1", clip.inits.Load())
	}
}

func TestChannels_ClipboardFailure(t *testing.T) {
	seq, vcm, _, clip, _ := newTestSequencer()
	clip.fail = true
	vcm.Join(engine.ChannelCliprdr)
	if err := seq.tick(true); !errors.Is(err, errClipboardInit) {
		t.Fatalf("tick = %v, want errClipboardInit", err)
	}
}

func TestState_String(t *testing.T) {
	want := []string{"initial", "starting", "running", "streaming", "closed"}
	for i, st := range AllStates() {
		if st.String() != want[i] {
			t.Errorf("%d: %q, want %q", i, st.String(), want[i])
		}
	}
	if State(42).String() != "state(42)" {
		t.Errorf("unknown state = %q", State(42).String())
	}
}
