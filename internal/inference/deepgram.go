package inference

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/google/uuid"
)

// DeepgramSynthesizer implements Synthesizer against Deepgram's speak API.
// The streamed linear16 audio is collected into a local WAV artifact and
// the artifact path is returned as the audio ref.
type DeepgramSynthesizer struct {
	apiKey     string
	model      string
	sampleRate int
	dir        string
}

// NewDeepgramSynthesizer writes artifacts under dir (os.TempDir when empty).
func NewDeepgramSynthesizer(apiKey, model, dir string) *DeepgramSynthesizer {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &DeepgramSynthesizer{apiKey: apiKey, model: model, sampleRate: 48000, dir: dir}
}

func (d *DeepgramSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if d.apiKey == "" {
		return "", fmt.Errorf("%w: deepgram api key missing", ErrSynthesisFailed)
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}

	var (
		mu           sync.Mutex
		pcm          []byte
		lastRecvUnix int64
		seenAudio    int32
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		pcm = append(pcm, data...)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return "", fmt.Errorf("%w: create ws client: %v", ErrSynthesisFailed, err)
	}
	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return "", fmt.Errorf("%w: connect failed", ErrSynthesisFailed)
	}
	if err := dg.SpeakWithText(text); err != nil {
		return "", fmt.Errorf("%w: speak text: %v", ErrSynthesisFailed, err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// The stream has no explicit end-of-audio marker; treat a short idle
	// window after the first audio as completion, bounded by a deadline.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
collect:
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, ctx.Err())
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					break collect
				}
			}
			if time.Now().After(deadline) {
				break collect
			}
		}
	}
	stopClient()

	mu.Lock()
	audio := pcm
	mu.Unlock()
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: no audio received", ErrSynthesisFailed)
	}

	path := filepath.Join(d.dir, fmt.Sprintf("voice-%s.wav", uuid.NewString()))
	if err := writeWAV48k(path, audio); err != nil {
		return "", fmt.Errorf("%w: write artifact: %v", ErrSynthesisFailed, err)
	}
	return path, nil
}

func writeWAV48k(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	const sampleRate, channels, bitDepth = 48000, 1, 16
	byteRate := sampleRate * channels * bitDepth / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], channels*bitDepth/8)
	binary.LittleEndian.PutUint16(header[34:36], bitDepth)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(pcm)
	return err
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
