package mediacast

import (
	"context"
	"html"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// OutgoingMedia is one delivery to one destination. Content is opened fresh
// for every attempt and closed by the distributor after the send returns.
type OutgoingMedia struct {
	Kind     TransportKind
	Content  io.Reader
	Filename string
	// Caption is empty for kinds that carry none. When CaptionHTML is set the
	// caption is HTML markup and must be rendered, not shown literally.
	Caption     string
	CaptionHTML bool
}

// Sender delivers media to a destination chat. Errors are recoverable from
// the distributor's point of view: the recipient stays pending and is retried
// on the next pass.
type Sender interface {
	SendMedia(ctx context.Context, chatID int64, media OutgoingMedia) error
}

// RecipientSource yields the broadcast list. The distributor snapshots it
// once per file, at the start of the run.
type RecipientSource interface {
	Snapshot() []int64
}

type sleepFunc func(ctx context.Context, d time.Duration) error

type DistributorOptions struct {
	Sender     Sender
	Recipients RecipientSource
	Classifier *Classifier
	// SettleDelay is waited before touching a staged file, so a partially
	// written file is never shipped. Defaults to 3s.
	SettleDelay time.Duration
	// RetryDelay separates passes over the pending set. Defaults to 1s.
	RetryDelay time.Duration
	// MaxAttempts bounds passes per file. Defaults to 3.
	MaxAttempts int
	Logger      *slog.Logger
	Events      *EventBus
	// Sleep is a test hook; the default waits on a timer or ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Distributor fans one staged file out to every registered recipient with
// bounded retry, then reclaims the file. Delivery failure never blocks
// cleanup: the file is removed exactly once per invocation, even on total
// failure.
type Distributor struct {
	sender      Sender
	recipients  RecipientSource
	classifier  *Classifier
	settleDelay time.Duration
	retryDelay  time.Duration
	maxAttempts int
	logger      *slog.Logger
	events      *EventBus
	sleep       sleepFunc
}

func NewDistributor(opts DistributorOptions) (*Distributor, error) {
	if opts.Sender == nil || opts.Recipients == nil {
		return nil, ErrInvalidInput
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = &Classifier{}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 3 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = waitWithContext
	}
	return &Distributor{
		sender:      opts.Sender,
		recipients:  opts.Recipients,
		classifier:  classifier,
		settleDelay: opts.SettleDelay,
		retryDelay:  opts.RetryDelay,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		events:      opts.Events,
		sleep:       sleep,
	}, nil
}

// Distribute runs the full cycle for one staged file. The returned error is
// only ever a context error; per-recipient transport failures are logged and
// retried, never surfaced.
func (d *Distributor) Distribute(ctx context.Context, path string) error {
	name := filepath.Base(path)
	defer d.reclaim(path)

	if err := d.sleep(ctx, d.settleDelay); err != nil {
		return err
	}

	classification := d.classifier.Classify(ctx, path)
	caption := ""
	if classification.Captioned {
		caption = "<code>" + html.EscapeString(name) + "</code>"
	}
	filename := deliveryFilename(path, classification.Kind)
	d.logger.Info("preparing to send staged file",
		"file", name, "kind", classification.Kind.String(), "filename", filename)

	pending := map[int64]struct{}{}
	for _, chatID := range d.recipients.Snapshot() {
		pending[chatID] = struct{}{}
	}

	for attempt := 1; attempt <= d.maxAttempts && len(pending) > 0; attempt++ {
		d.logger.Info("delivery pass", "file", name, "attempt", attempt, "pending", len(pending))
		for _, chatID := range sortedIDs(pending) {
			if err := d.sendOnce(ctx, chatID, path, filename, classification, caption); err != nil {
				d.logger.Error("delivery failed",
					"file", name, "chat", chatID, "attempt", attempt, "error", err)
				d.publish(DeliveryEvent{
					Type: EventDeliveryFailed, File: name,
					Kind: classification.Kind.String(), ChatID: chatID,
					Attempt: attempt, Error: err.Error(),
				})
				continue
			}
			delete(pending, chatID)
			d.logger.Info("delivered staged file", "file", name, "chat", chatID, "attempt", attempt)
			d.publish(DeliveryEvent{
				Type: EventDelivered, File: name,
				Kind: classification.Kind.String(), ChatID: chatID, Attempt: attempt,
			})
		}
		if len(pending) > 0 && attempt < d.maxAttempts {
			if err := d.sleep(ctx, d.retryDelay); err != nil {
				return err
			}
		}
	}

	if len(pending) > 0 {
		failed := sortedIDs(pending)
		d.logger.Error("delivery exhausted", "file", name, "chats", failed, "attempts", d.maxAttempts)
		for _, chatID := range failed {
			d.publish(DeliveryEvent{
				Type: EventExhausted, File: name,
				Kind: classification.Kind.String(), ChatID: chatID, Attempt: d.maxAttempts,
			})
		}
	}
	return nil
}

func (d *Distributor) sendOnce(ctx context.Context, chatID int64, path, filename string, classification Classification, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return d.sender.SendMedia(ctx, chatID, OutgoingMedia{
		Kind:        classification.Kind,
		Content:     file,
		Filename:    filename,
		Caption:     caption,
		CaptionHTML: caption != "",
	})
}

func (d *Distributor) reclaim(path string) {
	name := filepath.Base(path)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return
		}
		d.logger.Error("failed to delete staged file", "file", name, "error", err)
		return
	}
	d.logger.Info("deleted staged file", "file", name)
	d.publish(DeliveryEvent{Type: EventReclaimed, File: name})
}

func (d *Distributor) publish(event DeliveryEvent) {
	if d.events != nil {
		d.events.Publish(event)
	}
}

// deliveryFilename renames silent mp4/webm animations to a .gif suffix so
// receiving clients present them as loops. The encoding is untouched.
func deliveryFilename(path string, kind TransportKind) string {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if kind == KindAnimation && (ext == ".mp4" || ext == ".webm") {
		return strings.TrimSuffix(base, filepath.Ext(base)) + ".gif"
	}
	return base
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
