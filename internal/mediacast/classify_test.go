package mediacast

import (
	"context"
	"errors"
	"testing"
)

type stubProber struct {
	audio  bool
	err    error
	probes int
}

func (p *stubProber) HasAudio(ctx context.Context, path string) (bool, error) {
	p.probes++
	return p.audio, p.err
}

func TestClassifyExtensionMapping(t *testing.T) {
	cases := []struct {
		path string
		kind TransportKind
	}{
		{"a.jpg", KindPhoto},
		{"a.jpeg", KindPhoto},
		{"a.PNG", KindPhoto},
		{"a.mov", KindVideo},
		{"a.avi", KindVideo},
		{"a.mkv", KindVideo},
		{"a.gif", KindAnimation},
		{"a.webm", KindAnimation},
		{"a.webp", KindSticker},
		{"a.oga", KindVoice},
		{"a.mp3", KindAudio},
		{"a.pdf", KindDocument},
		{"a", KindDocument},
	}
	classifier := &Classifier{Probe: &stubProber{audio: true}}
	for _, tc := range cases {
		got := classifier.Classify(context.Background(), tc.path)
		if got.Kind != tc.kind {
			t.Fatalf("classify %q: expected %s, got %s", tc.path, tc.kind, got.Kind)
		}
		again := classifier.Classify(context.Background(), tc.path)
		if again != got {
			t.Fatalf("classify %q is not stable: %+v then %+v", tc.path, got, again)
		}
	}
}

func TestClassifyMP4ConsultsProbe(t *testing.T) {
	withAudio := &Classifier{Probe: &stubProber{audio: true}}
	if got := withAudio.Classify(context.Background(), "clip.mp4"); got.Kind != KindVideo {
		t.Fatalf("expected mp4 with audio to be video, got %s", got.Kind)
	}

	silent := &Classifier{Probe: &stubProber{audio: false}}
	if got := silent.Classify(context.Background(), "clip.mp4"); got.Kind != KindAnimation {
		t.Fatalf("expected silent mp4 to be animation, got %s", got.Kind)
	}
}

func TestClassifyMP4ProbeFailureDefaultsToVideo(t *testing.T) {
	failing := &stubProber{audio: false, err: errors.New("probe exploded")}
	classifier := &Classifier{Probe: failing}
	if got := classifier.Classify(context.Background(), "clip.mp4"); got.Kind != KindVideo {
		t.Fatalf("expected probe failure to default to video, got %s", got.Kind)
	}

	missing := &Classifier{}
	if got := missing.Classify(context.Background(), "clip.mp4"); got.Kind != KindVideo {
		t.Fatalf("expected missing prober to default to video, got %s", got.Kind)
	}
}

func TestClassifyProbeOnlyForMP4(t *testing.T) {
	probe := &stubProber{audio: false}
	classifier := &Classifier{Probe: probe}
	classifier.Classify(context.Background(), "a.mov")
	classifier.Classify(context.Background(), "a.webm")
	classifier.Classify(context.Background(), "a.jpg")
	if probe.probes != 0 {
		t.Fatalf("expected no probes for non-mp4 files, got %d", probe.probes)
	}
	classifier.Classify(context.Background(), "a.mp4")
	if probe.probes != 1 {
		t.Fatalf("expected one probe for mp4, got %d", probe.probes)
	}
}

func TestCaptioned(t *testing.T) {
	for _, kind := range []TransportKind{KindPhoto, KindVideo, KindAnimation, KindVoice, KindAudio, KindDocument} {
		if !kind.Captioned() {
			t.Fatalf("expected %s to be captioned", kind)
		}
	}
	if KindSticker.Captioned() {
		t.Fatalf("expected sticker to be caption-free")
	}
}

func TestAllowedExtension(t *testing.T) {
	allowed := []string{".jpg", ".jpeg", ".png", ".mp4", ".mov", ".avi", ".mkv", ".gif", ".webm", ".webp", ".oga", ".mp3", ".MP4", ".Jpg"}
	for _, ext := range allowed {
		if !AllowedExtension(ext) {
			t.Fatalf("expected %q to be allowed", ext)
		}
	}
	for _, ext := range []string{".exe", ".txt", ".json", "", ".mp5"} {
		if AllowedExtension(ext) {
			t.Fatalf("expected %q to be rejected", ext)
		}
	}
}
