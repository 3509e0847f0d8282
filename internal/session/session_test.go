package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"playmirror/internal/types"
)

type chanSink chan types.Gesture

func (c chanSink) Handle(g types.Gesture) { c <- g }

func TestHandleMessage(t *testing.T) {
	sink := make(chanSink, 4)
	sess, err := NewSession(uuid.NewString(), Config{}, sink)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	sess.handleMessage([]byte(`{"type":"touchstart","id":2,"x":10,"y":20,"pressure":1}`))
	sess.handleMessage([]byte(`not json`))
	sess.handleMessage([]byte(`{"type":"touchcancel"}`))

	want := []types.Gesture{
		{Kind: types.GestureTouchDown, ID: 2, X: 10, Y: 20, Pressure: 1},
		{Kind: types.GestureTouchCancel},
	}
	for i, w := range want {
		if got := <-sink; got != w {
			t.Fatalf("gesture %d: got %+v, want %+v", i, got, w)
		}
	}
	if delivered, rejected := sess.Events(); delivered != 2 || rejected != 1 {
		t.Fatalf("events: delivered %d rejected %d", delivered, rejected)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sess, err := NewSession("s1", Config{}, make(chanSink, 1))
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()
	sess.Close()
	if !sess.IsClosed() {
		t.Fatal("session not closed")
	}
	select {
	case <-sess.Stop:
	default:
		t.Fatal("Stop not closed")
	}
	// Messages after close are dropped.
	sess.handleMessage([]byte(`{"type":"mousemove","x":1,"y":1}`))
	if delivered, _ := sess.Events(); delivered != 0 {
		t.Fatal("closed session delivered an event")
	}
}

func newOfferer(t *testing.T) (*webrtc.PeerConnection, *webrtc.DataChannel) {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	dc, err := pc.CreateDataChannel(InputLabel, nil)
	if err != nil {
		t.Fatal(err)
	}
	return pc, dc
}

func TestDataChannelDeliversGestures(t *testing.T) {
	sink := make(chanSink, 4)
	sess, err := NewSession(uuid.NewString(), Config{IncludeLoopback: true}, sink)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	viewer, dc := newOfferer(t)
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := viewer.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(viewer)
	if err := viewer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := sess.Answer(ctx, viewer.LocalDescription().SDP)
	if err != nil {
		t.Fatal(err)
	}
	if err := viewer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatal("data channel never opened")
	}
	if err := dc.SendText(`{"type":"keydown","code":"KeyA","key":"a"}`); err != nil {
		t.Fatal(err)
	}

	select {
	case g := <-sink:
		want := types.Gesture{Kind: types.GestureKey, Keysym: 'a', Pressed: true}
		if g != want {
			t.Fatalf("got %+v, want %+v", g, want)
		}
	case <-ctx.Done():
		t.Fatal("gesture never delivered")
	}
}
