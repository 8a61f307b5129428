package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/relaykit/mediacast/internal/mediacast"
)

type ListenerOptions struct {
	API      *tg.Client
	Peers    *PeerCache
	Owner    int64
	Ingestor *mediacast.Ingestor
	Commands *mediacast.CommandHandler
	Logger   *slog.Logger
}

// Listener turns raw MTProto updates into ingestion events and administrative
// commands. It observes every chat the account is in; filtering is the
// ingestor's job.
type Listener struct {
	api      *tg.Client
	peers    *PeerCache
	owner    int64
	ingestor *mediacast.Ingestor
	commands *mediacast.CommandHandler
	logger   *slog.Logger
}

func NewListener(opts ListenerOptions) (*Listener, error) {
	if opts.API == nil || opts.Peers == nil || opts.Ingestor == nil || opts.Commands == nil {
		return nil, mediacast.ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		api:      opts.API,
		peers:    opts.Peers,
		owner:    opts.Owner,
		ingestor: opts.Ingestor,
		commands: opts.Commands,
		logger:   opts.Logger,
	}, nil
}

// Attach registers the listener on the client's update dispatcher.
func (l *Listener) Attach(dispatcher tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		l.peers.Apply(e)
		return l.handleUpdate(ctx, update.Message)
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		l.peers.Apply(e)
		return l.handleUpdate(ctx, update.Message)
	})
}

func (l *Listener) handleUpdate(ctx context.Context, message tg.MessageClass) error {
	msg, ok := message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	chatID := markedPeerID(msg.PeerID)
	senderID := int64(0)
	if from, ok := msg.GetFromID(); ok {
		if user, ok := from.(*tg.PeerUser); ok {
			senderID = user.UserID
		}
	}
	effective := senderID
	if effective == 0 {
		effective = chatID
	}

	switch media := msg.Media.(type) {
	case nil:
		if msg.Message == "" {
			return nil
		}
		if err := l.commands.HandleText(ctx, effective, msg.Message); err != nil {
			l.logger.Error("command handling failed", "chat", chatID, "error", err)
		}
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return l.ingestPhoto(ctx, msg, chatID, senderID, photo)
	case *tg.MessageMediaDocument:
		document, ok := media.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return l.ingestDocument(ctx, msg, chatID, senderID, effective, document)
	default:
		return nil
	}
}

func (l *Listener) ingestPhoto(ctx context.Context, msg *tg.Message, chatID, senderID int64, photo *tg.Photo) error {
	location := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     largestPhotoSize(photo),
	}
	event := mediacast.InboundMedia{
		ChatID:    chatID,
		SenderID:  senderID,
		MessageID: int64(msg.ID),
		Fetch:     l.fetcher(location, ".jpg"),
	}
	return l.ingest(ctx, event)
}

func (l *Listener) ingestDocument(ctx context.Context, msg *tg.Message, chatID, senderID, effective int64, document *tg.Document) error {
	attrs := documentTraits(document)

	// A JSON upload from the administrator is a registry replacement, not
	// media to relay.
	if effective == l.owner && strings.EqualFold(filepath.Ext(attrs.filename), ".json") {
		var buf bytes.Buffer
		if _, err := downloader.NewDownloader().Download(l.api, documentLocation(document)).Stream(ctx, &buf); err != nil {
			l.logger.Error("failed to download registry upload", "file", attrs.filename, "error", err)
			return nil
		}
		if err := l.commands.HandleDocument(ctx, effective, attrs.filename, buf.Bytes()); err != nil {
			l.logger.Error("registry upload handling failed", "file", attrs.filename, "error", err)
		}
		return nil
	}

	event := mediacast.InboundMedia{
		ChatID:    chatID,
		SenderID:  senderID,
		MessageID: int64(msg.ID),
		Animated:  attrs.animated,
		Video:     attrs.video,
		Fetch:     l.fetcher(documentLocation(document), stagingExtension(attrs, document.MimeType)),
	}
	return l.ingest(ctx, event)
}

func (l *Listener) ingest(ctx context.Context, event mediacast.InboundMedia) error {
	if err := l.ingestor.HandleMedia(ctx, event); err != nil {
		l.logger.Error("ingestion failed",
			"chat", event.ChatID, "message", event.MessageID, "error", err)
	}
	return nil
}

// fetcher builds the download closure the ingestor invokes after the
// blocklist check passes. The extension is decided here, where the transport
// metadata lives.
func (l *Listener) fetcher(location tg.InputFileLocationClass, ext string) mediacast.MediaFetcher {
	return func(ctx context.Context, basePath string) (string, error) {
		path := basePath + ext
		if _, err := downloader.NewDownloader().Download(l.api, location).ToPath(ctx, path); err != nil {
			return "", fmt.Errorf("download to %s: %w", path, err)
		}
		return path, nil
	}
}

type documentAttrs struct {
	filename string
	animated bool
	video    bool
	voice    bool
	audio    bool
	sticker  bool
}

func documentTraits(document *tg.Document) documentAttrs {
	var attrs documentAttrs
	for _, attribute := range document.Attributes {
		switch a := attribute.(type) {
		case *tg.DocumentAttributeFilename:
			attrs.filename = a.FileName
		case *tg.DocumentAttributeAnimated:
			attrs.animated = true
		case *tg.DocumentAttributeVideo:
			attrs.video = true
		case *tg.DocumentAttributeAudio:
			attrs.audio = true
			attrs.voice = a.Voice
		case *tg.DocumentAttributeSticker:
			attrs.sticker = true
		}
	}
	if attrs.animated {
		attrs.video = false
	}
	return attrs
}

// stagingExtension picks the extension the staged copy carries. The original
// filename wins when its extension is one the pipeline accepts; otherwise the
// MIME type and attributes decide.
func stagingExtension(attrs documentAttrs, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(attrs.filename)); mediacast.AllowedExtension(ext) {
		return ext
	}
	switch strings.ToLower(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "audio/ogg", "audio/opus":
		return ".oga"
	case "audio/mpeg":
		return ".mp3"
	}
	switch {
	case attrs.voice || attrs.audio:
		return ".oga"
	case attrs.sticker:
		return ".webp"
	case attrs.animated, attrs.video:
		return ".mp4"
	default:
		return ""
	}
}

func documentLocation(document *tg.Document) *tg.InputDocumentFileLocation {
	return &tg.InputDocumentFileLocation{
		ID:            document.ID,
		AccessHash:    document.AccessHash,
		FileReference: document.FileReference,
	}
}

// largestPhotoSize picks the biggest server-rendered size. Progressive sizes
// report their byte counts per level; plain sizes report one.
func largestPhotoSize(photo *tg.Photo) string {
	best := ""
	bestBytes := -1
	for _, size := range photo.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if s.Size > bestBytes {
				best, bestBytes = s.Type, s.Size
			}
		case *tg.PhotoSizeProgressive:
			total := 0
			for _, level := range s.Sizes {
				if level > total {
					total = level
				}
			}
			if total > bestBytes {
				best, bestBytes = s.Type, total
			}
		}
	}
	if best == "" {
		// Fall back to the conventional largest type letter.
		best = "y"
	}
	return best
}
