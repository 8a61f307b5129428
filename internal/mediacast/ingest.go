package mediacast

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// MediaFetcher persists the raw media bytes of one inbound message under the
// given base path. The external client assigns the extension from the content
// type and returns the final path.
type MediaFetcher func(ctx context.Context, basePath string) (string, error)

// InboundMedia is one media-bearing message observed on the source account.
type InboundMedia struct {
	ChatID    int64
	SenderID  int64 // 0 when the sender is unknown
	MessageID int64
	// Animated and Video reflect the attached document's attributes; the
	// animation attribute wins when both are present.
	Animated bool
	Video    bool
	Fetch    MediaFetcher
}

// StagingBaseName derives the deterministic staging name for a message:
// "<senderID|chatID>-<messageID>" plus a "-gif" or "-video" suffix when the
// attachment declares itself as one.
func StagingBaseName(msg InboundMedia) string {
	identifier := msg.SenderID
	if identifier == 0 {
		identifier = msg.ChatID
	}
	name := fmt.Sprintf("%d-%d", identifier, msg.MessageID)
	switch {
	case msg.Animated:
		name += "-gif"
	case msg.Video:
		name += "-video"
	}
	return name
}

// BlocklistSource is the blocklist view the ingestor consults. It is reloaded
// on every event so external edits to the backing file take effect
// immediately.
type BlocklistSource interface {
	Reload() error
	Contains(id int64) bool
}

type IngestorOptions struct {
	Blocklist  BlocklistSource
	StagingDir string
	Logger     *slog.Logger
	Events     *EventBus
}

// Ingestor filters inbound media events against the blocklist and stages the
// ones that pass under a deterministic name. A failed download is a lost
// item: logged, never requeued.
type Ingestor struct {
	blocklist  BlocklistSource
	stagingDir string
	logger     *slog.Logger
	events     *EventBus
}

func NewIngestor(opts IngestorOptions) (*Ingestor, error) {
	if opts.Blocklist == nil || strings.TrimSpace(opts.StagingDir) == "" {
		return nil, ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingestor{
		blocklist:  opts.Blocklist,
		stagingDir: filepath.Clean(opts.StagingDir),
		logger:     opts.Logger,
		events:     opts.Events,
	}, nil
}

// HandleMedia processes one inbound media event. Blocked events are dropped
// without touching the staging area.
func (in *Ingestor) HandleMedia(ctx context.Context, msg InboundMedia) error {
	if msg.Fetch == nil {
		return ErrInvalidInput
	}
	if err := in.blocklist.Reload(); err != nil {
		in.logger.Error("failed to reload blocklist, using last known state", "error", err)
	}
	if in.blocklist.Contains(msg.ChatID) || (msg.SenderID != 0 && in.blocklist.Contains(msg.SenderID)) {
		in.logger.Info("skipping media from blocked source", "chat", msg.ChatID, "sender", msg.SenderID)
		return nil
	}
	basePath := filepath.Join(in.stagingDir, StagingBaseName(msg))
	saved, err := msg.Fetch(ctx, basePath)
	if err != nil {
		in.logger.Error("failed to download media", "chat", msg.ChatID, "message", msg.MessageID, "error", err)
		return err
	}
	in.logger.Info("staged inbound media", "path", saved)
	if in.events != nil {
		in.events.Publish(DeliveryEvent{Type: EventStaged, File: filepath.Base(saved), ChatID: msg.ChatID})
	}
	return nil
}
