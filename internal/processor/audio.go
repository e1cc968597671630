package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
)

// waveformBuckets mirrors the original system's 56-bucket resolution
// for the inbound/outbound audio waveform preview.
const waveformBuckets = 56

// waveformMaxSamples caps PCM decode at 5 minutes of 16 kHz audio
// (spec.md §5: "waveform peak computation is bounded to ~5 minutes of
// audio").
const waveformMaxSamples = 5 * 60 * 16000

// FFmpegAudio shells out to the system ffmpeg binary for the two
// subprocess-bound audio operations spec.md §5 names: VoIP-profile
// transcode and waveform peak extraction. Grounded on
// AzielCF-az-wap's usecase/send.go, which shells the same binary for
// video thumbnailing/compression and audio-to-OGG transcode via
// exec.Command/exec.CommandContext.
type FFmpegAudio struct {
	binary string
}

// NewFFmpegAudio returns an FFmpegAudio that invokes "ffmpeg" off
// PATH; pass an absolute path if the deployment pins one.
func NewFFmpegAudio() *FFmpegAudio {
	return &FFmpegAudio{binary: "ffmpeg"}
}

// Normalize transcodes localPath to the upstream's required shape:
// mono, 16 kHz, Opus, 48 kbit/s, VoIP application (spec.md "Bit-level
// notes"). The destination sits alongside the source with a .ogg
// extension, mirroring convert_webm_to_ogg's same-stem rename.
func (f *FFmpegAudio) Normalize(ctx context.Context, localPath string) (string, error) {
	dstPath := localPath + ".ogg"
	cmd := exec.CommandContext(ctx, f.binary,
		"-y",
		"-i", localPath,
		"-ac", "1", "-ar", "16000",
		"-c:a", "libopus", "-b:a", "48k", "-application", "voip",
		dstPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("processor: ffmpeg normalize: %w: %s", err, out)
	}
	return dstPath, nil
}

// ComputeWaveform decodes localPath to mono 16-bit PCM at 16 kHz and
// returns a waveformBuckets-length slice of 0..100 peak amplitudes,
// ported from compute_audio_waveform's bucket-peak algorithm.
func (f *FFmpegAudio) ComputeWaveform(ctx context.Context, localPath string) ([]int, error) {
	cmd := exec.CommandContext(ctx, f.binary,
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", localPath,
		"-ac", "1", "-ar", "16000",
		"-f", "s16le",
		"pipe:1",
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return flatWaveform(), nil
	}
	return peakWaveform(stdout.Bytes()), nil
}

func flatWaveform() []int {
	out := make([]int, waveformBuckets)
	for i := range out {
		out[i] = 30
	}
	return out
}

// peakWaveform buckets raw little-endian s16 PCM into waveformBuckets
// peaks, normalized to 0..100.
func peakWaveform(pcm []byte) []int {
	numSamples := len(pcm) / 2
	if numSamples <= 0 {
		return flatWaveform()
	}
	if numSamples > waveformMaxSamples {
		numSamples = waveformMaxSamples
	}

	bucketSize := numSamples / waveformBuckets
	if bucketSize < 1 {
		bucketSize = 1
	}

	peaks := make([]int, 0, waveformBuckets)
	maxAbs := 1
	for start := 0; start < numSamples && len(peaks) < waveformBuckets; start += bucketSize {
		end := start + bucketSize
		if end > numSamples {
			end = numSamples
		}
		localPeak := 0
		for i := start; i < end; i++ {
			sample := int(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
			if sample < 0 {
				sample = -sample
			}
			if sample > localPeak {
				localPeak = sample
			}
		}
		peaks = append(peaks, localPeak)
		if localPeak > maxAbs {
			maxAbs = localPeak
		}
	}

	norm := make([]int, waveformBuckets)
	for i := range norm {
		if i >= len(peaks) {
			continue
		}
		v := int(float64(peaks[i]) / float64(maxAbs) * 100)
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		norm[i] = v
	}
	return norm
}
