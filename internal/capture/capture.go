// Package capture owns the microphone side of a practice session: the
// exclusive recording device, the recorder that turns fed PCM frames into a
// WAV artifact, and the permission gate in front of both.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned when microphone access was refused.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceBusy is returned when another recording holds the device.
	ErrDeviceBusy = errors.New("capture: recording device busy")
)

// Device models the singly-owned microphone resource plus the audio-session
// recording mode that must be toggled only on start/stop boundaries.
type Device struct {
	mu            sync.Mutex
	held          bool
	recordingMode bool
}

// NewDevice returns an unheld device.
func NewDevice() *Device { return &Device{} }

// Acquire takes exclusive ownership and enables recording mode.
// It fails with ErrDeviceBusy when another capture is active.
func (d *Device) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return ErrDeviceBusy
	}
	d.held = true
	d.recordingMode = true
	return nil
}

// Release gives the device back and disables recording mode. Idempotent.
func (d *Device) Release() {
	d.mu.Lock()
	d.held = false
	d.recordingMode = false
	d.mu.Unlock()
}

// Held reports whether a capture currently owns the device.
func (d *Device) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// RecordingMode reports whether the audio session is in recording mode.
func (d *Device) RecordingMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recordingMode
}

// Recorder accumulates 16kHz mono PCM16LE frames between Start and Stop and
// finalizes them into a WAV artifact on disk.
type Recorder struct {
	device *Device
	dir    string

	mu     sync.Mutex
	active bool
	pcm    []byte
}

// NewRecorder builds a recorder writing artifacts under dir (os.TempDir when
// empty) and holding the given device while recording.
func NewRecorder(device *Device, dir string) *Recorder {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Recorder{device: device, dir: dir}
}

// Start acquires the device and begins buffering audio. Callers must not
// invoke Start while already recording; a second Start fails with
// ErrDeviceBusy rather than silently restarting.
func (r *Recorder) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrDeviceBusy
	}
	if err := r.device.Acquire(); err != nil {
		return err
	}
	r.active = true
	r.pcm = r.pcm[:0]
	return nil
}

// FeedPCM16k appends captured PCM16LE 16kHz mono bytes. Frames arriving
// while no recording is active are dropped.
func (r *Recorder) FeedPCM16k(pcm []byte) {
	r.mu.Lock()
	if r.active && len(pcm) > 0 {
		r.pcm = append(r.pcm, pcm...)
	}
	r.mu.Unlock()
}

// Stop finalizes the recording into a WAV file and returns its path.
// With no active recording it returns ("", nil). The device is released
// even when finalization fails, so no device lock can survive an error.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return "", nil
	}
	r.active = false
	defer r.device.Release()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, fmt.Sprintf("practice-%s.wav", uuid.NewString()))
	if err := writeWAV(path, r.pcm); err != nil {
		return "", fmt.Errorf("capture: finalize recording: %w", err)
	}
	r.pcm = r.pcm[:0]
	return path, nil
}

// Reset discards any in-progress recording without producing an artifact.
// Idempotent; safe to call when nothing is recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	if r.active {
		r.active = false
		r.device.Release()
	}
	r.pcm = r.pcm[:0]
	r.mu.Unlock()
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

const (
	wavSampleRate = 16000
	wavChannels   = 1
	wavBitDepth   = 16
)

// writeWAV writes a minimal PCM16LE mono 16kHz RIFF container.
func writeWAV(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	byteRate := wavSampleRate * wavChannels * wavBitDepth / 8
	blockAlign := wavChannels * wavBitDepth / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], wavChannels)
	binary.LittleEndian.PutUint32(header[24:28], wavSampleRate)
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], wavBitDepth)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := f.Write(header); err != nil {
		return err
	}
	if _, err := f.Write(pcm); err != nil {
		return err
	}
	return f.Sync()
}
