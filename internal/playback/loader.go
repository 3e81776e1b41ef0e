package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ClipLoader resolves local WAV artifacts and remote WAV URIs. Duration is
// derived from the RIFF header, which is enough for the PCM clips the voice
// services return.
type ClipLoader struct {
	Client *http.Client
}

// NewClipLoader uses a 30s HTTP client for remote refs.
func NewClipLoader() *ClipLoader {
	return &ClipLoader{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (l *ClipLoader) Load(ctx context.Context, ref string) (Clip, error) {
	var raw []byte
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		b, err := l.fetch(ctx, ref)
		if err != nil {
			return Clip{}, err
		}
		raw = b
	} else {
		b, err := os.ReadFile(ref)
		if err != nil {
			return Clip{}, fmt.Errorf("open clip: %w", err)
		}
		raw = b
	}
	d, pcm, err := parseWAV(raw)
	if err != nil {
		return Clip{}, fmt.Errorf("clip %s: %w", ref, err)
	}
	return Clip{Ref: ref, Duration: d, PCM: pcm}, nil
}

func (l *ClipLoader) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch clip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch clip: status=%d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseWAV validates a canonical 44-byte RIFF/WAVE header and returns the
// clip duration plus the raw PCM payload.
func parseWAV(raw []byte) (time.Duration, []byte, error) {
	if len(raw) < 44 {
		return 0, nil, fmt.Errorf("short wav header")
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return 0, nil, fmt.Errorf("not a wav container")
	}
	byteRate := binary.LittleEndian.Uint32(raw[28:32])
	dataLen := binary.LittleEndian.Uint32(raw[40:44])
	if byteRate == 0 {
		return 0, nil, fmt.Errorf("wav header has zero byte rate")
	}
	pcm := raw[44:]
	if int(dataLen) < len(pcm) {
		pcm = pcm[:dataLen]
	}
	millis := int64(dataLen) * 1000 / int64(byteRate)
	return time.Duration(millis) * time.Millisecond, pcm, nil
}
