package processor

import (
	"encoding/binary"
	"testing"
)

func TestPeakWaveformLengthAndRange(t *testing.T) {
	pcm := make([]byte, 16000*2) // 1 second of mono 16kHz silence plus a spike
	binary.LittleEndian.PutUint16(pcm[2000:2002], uint16(int16(20000)))

	waveform := peakWaveform(pcm)
	if len(waveform) != waveformBuckets {
		t.Fatalf("len(waveform) = %d, want %d", len(waveform), waveformBuckets)
	}
	for i, v := range waveform {
		if v < 0 || v > 100 {
			t.Fatalf("waveform[%d] = %d, want 0..100", i, v)
		}
	}
	max := 0
	for _, v := range waveform {
		if v > max {
			max = v
		}
	}
	if max != 100 {
		t.Fatalf("expected the bucket containing the spike to normalize to 100, got max %d", max)
	}
}

func TestPeakWaveformEmptyPCMReturnsFlat(t *testing.T) {
	waveform := peakWaveform(nil)
	if len(waveform) != waveformBuckets {
		t.Fatalf("len(waveform) = %d, want %d", len(waveform), waveformBuckets)
	}
	for _, v := range waveform {
		if v != 30 {
			t.Fatalf("expected flat placeholder waveform of 30, got %v", waveform)
		}
	}
}
