package mediacast

import (
	"context"
	"path/filepath"
	"strings"
)

// TransportKind is the logical media category that selects the delivery
// method on the external client.
type TransportKind int

const (
	KindDocument TransportKind = iota
	KindPhoto
	KindVideo
	KindAnimation
	KindVoice
	KindAudio
	KindSticker
)

func (k TransportKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindAnimation:
		return "animation"
	case KindVoice:
		return "voice"
	case KindAudio:
		return "audio"
	case KindSticker:
		return "sticker"
	default:
		return "document"
	}
}

// Captioned reports whether media of this kind carries a caption. Stickers
// never do.
func (k TransportKind) Captioned() bool {
	return k != KindSticker
}

type Classification struct {
	Kind      TransportKind
	Captioned bool
}

var (
	photoExtensions     = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}}
	videoExtensions     = map[string]struct{}{".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}}
	animationExtensions = map[string]struct{}{".gif": {}, ".webm": {}}
	stickerExtensions   = map[string]struct{}{".webp": {}}
	voiceExtensions     = map[string]struct{}{".oga": {}}
	musicExtensions     = map[string]struct{}{".mp3": {}}
)

// AllowedExtension reports whether files with this extension (with leading
// dot, any case) are accepted in the staging area. The set is fixed.
func AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, set := range []map[string]struct{}{
		photoExtensions, videoExtensions, animationExtensions,
		stickerExtensions, voiceExtensions, musicExtensions,
	} {
		if _, ok := set[ext]; ok {
			return true
		}
	}
	return false
}

// Classifier maps a staged file to its transport kind. The only input besides
// the file extension is an audio-stream probe, consulted for .mp4 files:
// silent mp4s are delivered as animations rather than videos.
type Classifier struct {
	Probe AudioProber
}

func (c *Classifier) Classify(ctx context.Context, path string) Classification {
	ext := strings.ToLower(filepath.Ext(path))
	kind := KindDocument
	switch {
	case contains(photoExtensions, ext):
		kind = KindPhoto
	case ext == ".mp4":
		if c.hasAudio(ctx, path) {
			kind = KindVideo
		} else {
			kind = KindAnimation
		}
	case contains(videoExtensions, ext):
		kind = KindVideo
	case contains(animationExtensions, ext):
		kind = KindAnimation
	case contains(stickerExtensions, ext):
		kind = KindSticker
	case contains(voiceExtensions, ext):
		kind = KindVoice
	case contains(musicExtensions, ext):
		kind = KindAudio
	}
	return Classification{Kind: kind, Captioned: kind.Captioned()}
}

// hasAudio defaults to true when no prober is configured or the probe fails:
// misclassifying a silent video only loses the loop presentation, while
// misclassifying audio-bearing content as an animation strips its sound.
func (c *Classifier) hasAudio(ctx context.Context, path string) bool {
	if c == nil || c.Probe == nil {
		return true
	}
	present, err := c.Probe.HasAudio(ctx, path)
	if err != nil {
		return true
	}
	return present
}

func contains(set map[string]struct{}, ext string) bool {
	_, ok := set[ext]
	return ok
}
