package processor

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

// AudioNormalizer transcodes non-OGG audio to the upstream's required
// shape (spec.md "Bit-level notes": mono, 16 kHz, Opus, 48 kbit/s,
// VoIP application) via subprocess invocation (spec.md §5). A failure
// degrades gracefully -- the original file is sent as-is (spec.md §7
// "skip normalization").
type AudioNormalizer interface {
	Normalize(ctx context.Context, localPath string) (normalizedPath string, err error)
}

// WaveformComputer extracts the peak-amplitude preview spec.md's UI
// renders alongside an audio bubble (Message.Waveform), via the same
// kind of subprocess invocation as AudioNormalizer.
type WaveformComputer interface {
	ComputeWaveform(ctx context.Context, localPath string) (waveform []int, err error)
}

func (p *Processor) SetAudioNormalizer(n AudioNormalizer) { p.normalizer = n }

const uploadMediaTargetAudioMIME = "audio/ogg"

// prepareLocalMedia reads the local file, normalizing audio first when
// a normalizer is wired and the file isn't already OGG, then computes
// the waveform preview from whichever file actually gets sent.
func (p *Processor) prepareLocalMedia(msg *store.Message, mimeType string) ([]byte, string, error) {
	path := msg.MediaLocalPath

	if msg.Kind == store.KindAudio && p.normalizer != nil && !strings.EqualFold(filepath.Ext(path), ".ogg") {
		if normalizedPath, err := p.normalizer.Normalize(context.Background(), path); err == nil {
			defer os.Remove(normalizedPath)
			path = normalizedPath
			mimeType = uploadMediaTargetAudioMIME
		} else {
			p.log.Warn().Err(err).Msg("audio normalization failed, sending original file")
		}
	}

	if msg.Kind == store.KindAudio && p.waveform != nil {
		if waveform, err := p.waveform.ComputeWaveform(context.Background(), path); err == nil {
			msg.Waveform = waveform
		} else {
			p.log.Warn().Err(err).Msg("waveform computation failed")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

// uploadBackoff mirrors internal/core/jobs/queue.go's calculateBackoff
// (2^attempt seconds, capped at 3600) for the best-effort
// object-storage upload retry; unlike upstream message sends (spec.md
// §7: "no automatic retry at the core"), a failed storage upload is
// pure infrastructure flake and safe to retry a bounded number of
// times before degrading.
func uploadBackoff(attempt int) time.Duration {
	backoff := 1 << attempt
	if backoff > 3600 {
		backoff = 3600
	}
	return time.Duration(backoff) * time.Second
}

const maxUploadAttempts = 3

func (p *Processor) uploadWithRetry(ctx context.Context, msg *store.Message, data []byte, mimeType string) (string, error) {
	filename := store.MediaFilename(msg.Kind, time.Now())
	var lastErr error
	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(uploadBackoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		publicURL, err := p.media.Upload(ctx, filename, mimeType, data)
		if err == nil {
			return publicURL, nil
		}
		lastErr = err
	}
	return "", lastErr
}
