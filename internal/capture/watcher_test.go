package capture

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/scriberr-companion/internal/models"
)

// writeWAV writes a minimal PCM WAV file with the given amount of
// sample data.
func writeWAV(t *testing.T, path string, dataBytes int) {
	t.Helper()

	const (
		sampleRate    = 16000
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8

	buf := make([]byte, 44+dataBytes)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataBytes))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], channels)
	binary.LittleEndian.PutUint32(buf[24:], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSample)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataBytes))

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("Failed to write WAV file: %v", err)
	}
}

type fakeIngester struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeIngester) IngestCapture(ctx context.Context, filePath, title string, durationSec float64, createdAt time.Time) (*models.Recording, error) {
	f.mu.Lock()
	f.paths = append(f.paths, filePath)
	f.mu.Unlock()
	return &models.Recording{Title: title, DurationSec: durationSec}, nil
}

func TestProbeDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one-second.wav")
	// 16000 Hz, mono, 16-bit: 32000 bytes is one second.
	writeWAV(t, path, 32000)

	got, err := ProbeDuration(path)
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}
	if got < 0.99 || got > 1.01 {
		t.Errorf("Expected ~1s, got %f", got)
	}
}

func TestProbeDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("not audio"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, err := ProbeDuration(path); err == nil {
		t.Error("Expected error for non-WAV content")
	}
}

func TestRescanIngestsExistingCaptures(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "a.wav"), 32000)
	writeWAV(t, filepath.Join(dir, "b.WAV"), 16000)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	ingester := &fakeIngester{}
	w, err := NewWatcher(dir, ingester)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	if err := w.Rescan(context.Background()); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if len(ingester.paths) != 2 {
		t.Errorf("Expected 2 captures ingested, got %v", ingester.paths)
	}
}

func TestIsCaptureFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/rec/take.wav", true},
		{"/rec/take.WAV", true},
		{"/rec/take.mp3", false},
		{"/rec/take.wav.tmp", false},
		{"/rec/notes.txt", false},
	}
	for _, tt := range tests {
		if got := isCaptureFile(tt.path); got != tt.want {
			t.Errorf("isCaptureFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
