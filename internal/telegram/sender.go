package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/relaykit/mediacast/internal/mediacast"
)

// Sender ships outbound media and administrative replies over MTProto. It
// implements both delivery interfaces of the core package.
type Sender struct {
	sender   *message.Sender
	uploader *uploader.Uploader
	peers    *PeerCache
	logger   *slog.Logger
}

func NewSender(api *tg.Client, peers *PeerCache, logger *slog.Logger) (*Sender, error) {
	if api == nil || peers == nil {
		return nil, mediacast.ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	up := uploader.NewUploader(api)
	return &Sender{
		sender:   message.NewSender(api).WithUploader(up),
		uploader: up,
		peers:    peers,
		logger:   logger,
	}, nil
}

// SendMedia uploads the content and sends it with the transport shape the
// classification chose. The upload is redone per call; content readers are
// single-use.
func (s *Sender) SendMedia(ctx context.Context, chatID int64, media mediacast.OutgoingMedia) error {
	peer, err := s.peers.InputPeer(chatID)
	if err != nil {
		return err
	}
	upload, err := s.uploader.FromReader(ctx, media.Filename, media.Content)
	if err != nil {
		return fmt.Errorf("upload %s: %w", media.Filename, err)
	}
	var caption []message.StyledTextOption
	if media.Caption != "" {
		if media.CaptionHTML {
			caption = append(caption, html.String(nil, media.Caption))
		} else {
			caption = append(caption, styling.Plain(media.Caption))
		}
	}
	if _, err := s.sender.To(peer).Media(ctx, mediaOption(media, upload, caption)); err != nil {
		return fmt.Errorf("send %s to %d: %w", media.Filename, chatID, err)
	}
	return nil
}

// Reply sends a plain text message.
func (s *Sender) Reply(ctx context.Context, chatID int64, text string) error {
	peer, err := s.peers.InputPeer(chatID)
	if err != nil {
		return err
	}
	_, err = s.sender.To(peer).Text(ctx, text)
	return err
}

// ReplyDocument sends raw bytes as an attached file.
func (s *Sender) ReplyDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	peer, err := s.peers.InputPeer(chatID)
	if err != nil {
		return err
	}
	upload, err := s.uploader.FromBytes(ctx, filename, content)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	var styled []message.StyledTextOption
	if caption != "" {
		styled = append(styled, styling.Plain(caption))
	}
	document := message.UploadedDocument(upload, styled...).
		MIME(mimeForFilename(filename)).
		Filename(filename).
		ForceFile(true)
	_, err = s.sender.To(peer).Media(ctx, document)
	return err
}

// mediaOption maps a transport kind onto the MTProto media shape that makes
// receiving clients render it natively.
func mediaOption(media mediacast.OutgoingMedia, upload tg.InputFileClass, caption []message.StyledTextOption) message.MediaOption {
	if media.Kind == mediacast.KindPhoto {
		return message.UploadedPhoto(upload, caption...)
	}
	document := message.UploadedDocument(upload, caption...).Filename(media.Filename)
	switch media.Kind {
	case mediacast.KindVideo:
		return document.
			MIME(mimeForFilename(media.Filename)).
			Attributes(&tg.DocumentAttributeVideo{SupportsStreaming: true})
	case mediacast.KindAnimation:
		// The payload stays mp4 even under a .gif name; the animated
		// attribute is what makes clients loop it.
		return document.
			MIME("video/mp4").
			Attributes(&tg.DocumentAttributeAnimated{}, &tg.DocumentAttributeVideo{SupportsStreaming: true})
	case mediacast.KindVoice:
		return document.
			MIME("audio/ogg").
			Attributes(&tg.DocumentAttributeAudio{Voice: true})
	case mediacast.KindAudio:
		return document.
			MIME(mimeForFilename(media.Filename)).
			Attributes(&tg.DocumentAttributeAudio{})
	case mediacast.KindSticker:
		return document.MIME("image/webp")
	default:
		return document.MIME(mimeForFilename(media.Filename)).ForceFile(true)
	}
}

func mimeForFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "video/mp4" // renamed silent animation, still mp4 inside
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".json":
		return "application/json"
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
