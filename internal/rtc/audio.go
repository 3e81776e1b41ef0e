package rtc

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	voiceSampleRate  = 48000
	voiceFrameMillis = 20
	voiceFrameBytes  = voiceSampleRate / 1000 * voiceFrameMillis * 2
)

// sampleWriter is the outbound track surface the writer needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// VoiceWriter encodes 48kHz mono PCM16LE into 20ms Opus frames and writes
// them paced to a WebRTC track. It satisfies the playback sink contract:
// WritePCM hands over whole clips, Reset cuts whatever is still queued.
type VoiceWriter struct {
	enc   *opus.Encoder
	track sampleWriter

	mu      sync.Mutex
	pending []byte // PCM not yet framed
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
}

func NewVoiceWriter(track sampleWriter) (*VoiceWriter, error) {
	enc, err := opus.NewEncoder(voiceSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &VoiceWriter{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
	go w.pace()
	return w, nil
}

// WritePCM buffers clip PCM and enqueues every complete frame.
func (w *VoiceWriter) WritePCM(p []byte) {
	if len(p) < 2 {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, p...)
	opusBuf := make([]byte, 4000)
	frame := make([]int16, voiceFrameBytes/2)
	for len(w.pending) >= voiceFrameBytes {
		for i := range frame {
			frame[i] = int16(uint16(w.pending[2*i]) | uint16(w.pending[2*i+1])<<8)
		}
		w.pending = w.pending[voiceFrameBytes:]
		n, err := w.enc.Encode(frame, opusBuf)
		if err != nil || n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, opusBuf[:n])
		w.enqueue(pkt)
	}
	w.mu.Unlock()
}

// Reset drains queued frames and drops partial PCM so a stopped clip goes
// silent on the next frame boundary.
func (w *VoiceWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pending = w.pending[:0]
			return
		}
	}
}

// Close stops the pacer goroutine. The writer must not be used afterwards.
func (w *VoiceWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *VoiceWriter) pace() {
	ticker := time.NewTicker(voiceFrameMillis * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: voiceFrameMillis * time.Millisecond})
			default:
			}
		}
	}
}

func (w *VoiceWriter) enqueue(pkt []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- pkt:
	default:
		// queue full: drop the oldest frame rather than block the encoder
		select {
		case <-w.frames:
		default:
		}
		select {
		case w.frames <- pkt:
		default:
		}
	}
}
