package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/thesyncim/av1enc/od4"
)

// ErrUnexpectedSDP is returned when the viewer sends something other than
// an offer.
var ErrUnexpectedSDP = errors.New("relay: expected SDP offer")

// defaultFrameDuration is used for the first sample and for sample time
// gaps that are not positive.
const defaultFrameDuration = time.Second / 30

// viewer is one connected WebRTC peer.
type viewer struct {
	id    string
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
}

// WebRTCSink serves AV1 frames to browsers. Each POST to the offer endpoint
// creates a send-only peer connection with one AV1 video track; every frame
// passed to Send is written to all connected viewers.
type WebRTCSink struct {
	config webrtc.Configuration

	mu      sync.Mutex
	viewers map[string]*viewer
	last    time.Time

	running atomic.Bool
	dropped atomic.Uint64
}

// NewWebRTCSink creates a sink using cfg for every peer connection.
func NewWebRTCSink(cfg webrtc.Configuration) *WebRTCSink {
	s := &WebRTCSink{
		config:  cfg,
		viewers: make(map[string]*viewer),
	}
	s.running.Store(true)
	return s
}

// ServeHTTP accepts a JSON session description offer and answers once ICE
// gathering has completed.
func (s *WebRTCSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.running.Load() {
		http.Error(w, ErrSinkClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&offer); err != nil {
		http.Error(w, fmt.Sprintf("decode offer: %v", err), http.StatusBadRequest)
		return
	}

	answer, err := s.Accept(offer)
	if err != nil {
		logger.Warnf("webrtc offer from %s: %v", r.RemoteAddr, err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnexpectedSDP) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		logger.Debugf("write answer: %v", err)
	}
}

// Accept creates a viewer for offer and returns the local answer.
func (s *WebRTCSink) Accept(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w, got %s", ErrUnexpectedSDP, offer.Type)
	}

	v, err := s.newViewer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := v.negotiate(offer)
	if err != nil {
		v.pc.Close()
		return webrtc.SessionDescription{}, err
	}

	s.mu.Lock()
	s.viewers[v.id] = v
	s.mu.Unlock()
	logger.Infof("webrtc viewer %s connected", v.id)
	return answer, nil
}

func (s *WebRTCSink) newViewer() (*viewer, error) {
	pc, err := webrtc.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("relay: peer connection: %w", err)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeAV1,
	}, "video-"+id, "av1enc")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("relay: av1 track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("relay: add track: %w", err)
	}

	// Interceptors need RTCP to be read.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			s.remove(id)
		}
	})

	return &viewer{id: id, pc: pc, track: track}, nil
}

func (v *viewer) negotiate(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := v.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("relay: set remote description: %w", err)
	}
	answer, err := v.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("relay: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(v.pc)
	if err := v.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("relay: set local description: %w", err)
	}
	<-gatherComplete

	local := v.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("relay: missing local description")
	}
	return *local, nil
}

func (s *WebRTCSink) remove(id string) {
	s.mu.Lock()
	v := s.viewers[id]
	delete(s.viewers, id)
	s.mu.Unlock()

	if v != nil {
		v.pc.Close()
		logger.Infof("webrtc viewer %s closed", id)
	}
}

// Viewers returns the number of connected peers.
func (s *WebRTCSink) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Dropped returns the number of samples that failed to write.
func (s *WebRTCSink) Dropped() uint64 { return s.dropped.Load() }

// Send writes an AV1 image reading to every viewer. Per-viewer write
// failures are counted and logged; they never fail the call.
func (s *WebRTCSink) Send(msg od4.Message, sampleTime time.Time, senderStamp uint32) error {
	if !s.running.Load() {
		return ErrSinkClosed
	}
	frame, ok := av1Frame(msg)
	if !ok {
		return nil
	}

	s.mu.Lock()
	duration := defaultFrameDuration
	if !s.last.IsZero() {
		if d := sampleTime.Sub(s.last); d > 0 {
			duration = d
		}
	}
	s.last = sampleTime
	viewers := make([]*viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	sample := media.Sample{Data: frame, Duration: duration, Timestamp: sampleTime}
	for _, v := range viewers {
		if err := v.track.WriteSample(sample); err != nil {
			s.dropped.Add(1)
			logger.Debugf("webrtc sample drop viewer=%s: %v", v.id, err)
		}
	}
	return nil
}

// IsRunning reports whether the sink accepts frames.
func (s *WebRTCSink) IsRunning() bool { return s.running.Load() }

// Close disconnects every viewer.
func (s *WebRTCSink) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	viewers := s.viewers
	s.viewers = make(map[string]*viewer)
	s.mu.Unlock()

	var result *multierror.Error
	for _, v := range viewers {
		if err := v.pc.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("viewer %s: %w", v.id, err))
		}
	}
	return result.ErrorOrNil()
}
