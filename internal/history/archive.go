package history

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fede/whisperaloud/internal/config"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/klauspost/compress/zstd"
)

// Archiver writes recorded audio to content-addressed files under the
// configured archive directory, optionally zstd-compressed.
type Archiver struct {
	baseDir  string
	compress bool
}

// NewArchiver builds an Archiver from persistence config.
func NewArchiver(cfg config.PersistenceConfig) *Archiver {
	return &Archiver{
		baseDir:  config.ExpandHome(cfg.ArchivePath),
		compress: cfg.CompressArchive,
	}
}

// HashSamples returns the SHA-256 hex digest of samples as 16-bit PCM,
// used as the content-address for deduplication.
func HashSamples(samples []float32) string {
	h := sha256.New()
	buf := make([]byte, 2)
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf, uint16(floatToPCM16(s)))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PathFor returns the archive path a given content hash would be stored
// at, without writing anything. Files are sharded under audio/YYYY/MM by
// the recording's timestamp.
func (a *Archiver) PathFor(hash string, recordedAt time.Time) string {
	ext := ".wav"
	if a.compress {
		ext = ".wav.zst"
	}
	return filepath.Join(a.baseDir, "audio", recordedAt.Format("2006"), recordedAt.Format("01"), hash+ext)
}

// Save writes samples to the archive under hash's content-addressed path,
// compressing with zstd when configured. Returns the final file path.
func (a *Archiver) Save(hash string, samples []float32, sampleRate int, recordedAt time.Time) (string, error) {
	dest := a.PathFor(hash, recordedAt)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp("", "whisperaloud_archive_*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeWavFile(tmp, samples, sampleRate); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp wav: %w", err)
	}

	if !a.compress {
		if err := copyFile(tmpPath, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if err := compressFile(tmpPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Remove deletes the archive file at path, ignoring a not-found error.
func (a *Archiver) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive file %s: %w", path, err)
	}
	return nil
}

func writeWavFile(f *os.File, samples []float32, sampleRate int) error {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	buf.Data = make([]int, len(samples))
	for i, s := range samples {
		buf.Data[i] = int(floatToPCM16(s))
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return enc.Close()
}

func floatToPCM16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy archive file: %w", err)
	}
	return out.Close()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return fmt.Errorf("compress archive file: %w", err)
	}
	return enc.Close()
}
