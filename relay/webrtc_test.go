package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/av1enc/od4"
)

func TestWebRTCSinkRejectsBadRequests(t *testing.T) {
	sink := NewWebRTCSink(webrtc.Configuration{})
	defer sink.Close()

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"garbage", http.MethodPost, "{not json", http.StatusBadRequest},
		{"answer instead of offer", http.MethodPost, `{"type":"answer","sdp":"v=0"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sink.ServeHTTP(rec, httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := sink.Viewers(); n != 0 {
		t.Errorf("Viewers() = %d, want 0", n)
	}
}

func TestWebRTCSinkAcceptRequiresOffer(t *testing.T) {
	sink := NewWebRTCSink(webrtc.Configuration{})
	defer sink.Close()

	_, err := sink.Accept(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
	if !errors.Is(err, ErrUnexpectedSDP) {
		t.Errorf("Accept(answer) error = %v, want ErrUnexpectedSDP", err)
	}
}

func TestWebRTCSinkSendWithoutViewers(t *testing.T) {
	sink := NewWebRTCSink(webrtc.Configuration{})

	msg := &od4.ImageReading{FourCC: FourCC, Data: []byte{0x12, 0x00}}
	if err := sink.Send(msg, time.Now(), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sink.Send(msg, time.Now(), 0); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Send after Close = %v, want ErrSinkClosed", err)
	}
}

func TestWebRTCSinkNegotiates(t *testing.T) {
	if testing.Short() {
		t.Skip("ICE gathering in short mode")
	}

	sink := NewWebRTCSink(webrtc.Configuration{})
	defer sink.Close()
	srv := httptest.NewServer(sink)
	defer srv.Close()

	viewer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer viewer.Close()

	if _, err := viewer.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := viewer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(viewer)
	if err := viewer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered

	body, err := json.Marshal(viewer.LocalDescription())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/offer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST offer: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %s", answer.Type)
	}
	if !strings.Contains(answer.SDP, "AV1") {
		t.Errorf("answer does not negotiate AV1:\n%s", answer.SDP)
	}
	if err := viewer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	if n := sink.Viewers(); n != 1 {
		t.Errorf("Viewers() = %d, want 1", n)
	}

	msg := &od4.ImageReading{FourCC: FourCC, Data: temporalUnit(100)}
	if err := sink.Send(msg, time.Now(), 0); err != nil {
		t.Errorf("Send: %v", err)
	}
}
