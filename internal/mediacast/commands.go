package mediacast

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
)

// Replier sends direct textual or document replies to the administrator.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
	ReplyDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error
}

type CommandKind int

const (
	CmdUnknown CommandKind = iota
	CmdAddRecipient
	CmdRemoveRecipient
	CmdBan
	CmdUnban
	CmdListStaged
	CmdClearStaging
)

type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseCommand recognizes the prefix-triggered administrative commands. The
// second return is false for anything that is not a command.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	kind := CmdUnknown
	switch fields[0] {
	case "/add":
		kind = CmdAddRecipient
	case "/remove":
		kind = CmdRemoveRecipient
	case "/ban":
		kind = CmdBan
	case "/unban":
		kind = CmdUnban
	case "/list":
		kind = CmdListStaged
	case "/clear":
		kind = CmdClearStaging
	default:
		return Command{}, false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	if len(fields) > 2 {
		// Extra arguments make the command malformed; keep them so the
		// handler can reject with a usage notice.
		arg = strings.Join(fields[1:], " ")
	}
	return Command{Kind: kind, Arg: arg}, true
}

// StagingView is the slice of the monitor the command handler needs.
type StagingView interface {
	StagedFiles() ([]string, error)
	Clear()
}

type CommandHandlerOptions struct {
	Owner      int64
	Recipients IdentifierStore
	Blocklist  IdentifierStore
	Staging    StagingView
	Replier    Replier
	// BlocklistFilename routes replacement uploads: a JSON document with this
	// base name replaces the blocklist, any other JSON document replaces the
	// recipient registry.
	BlocklistFilename string
	Logger            *slog.Logger
}

// CommandHandler dispatches administrative commands. Only the owner identity
// is honored; messages from anyone else fall through silently, on purpose —
// the command surface does not exist for unauthorized callers.
type CommandHandler struct {
	owner             int64
	recipients        IdentifierStore
	blocklist         IdentifierStore
	staging           StagingView
	replier           Replier
	blocklistFilename string
	logger            *slog.Logger
}

func NewCommandHandler(opts CommandHandlerOptions) (*CommandHandler, error) {
	if opts.Owner == 0 || opts.Recipients == nil || opts.Blocklist == nil ||
		opts.Staging == nil || opts.Replier == nil {
		return nil, ErrInvalidInput
	}
	if opts.BlocklistFilename == "" {
		opts.BlocklistFilename = "blocklist.json"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CommandHandler{
		owner:             opts.Owner,
		recipients:        opts.Recipients,
		blocklist:         opts.Blocklist,
		staging:           opts.Staging,
		replier:           opts.Replier,
		blocklistFilename: opts.BlocklistFilename,
		logger:            opts.Logger,
	}, nil
}

// HandleText processes one textual message. Non-commands and non-owner
// senders are ignored.
func (h *CommandHandler) HandleText(ctx context.Context, senderID int64, text string) error {
	if senderID != h.owner {
		return nil
	}
	cmd, ok := ParseCommand(text)
	if !ok {
		return nil
	}
	switch cmd.Kind {
	case CmdAddRecipient:
		return h.mutateRegistry(ctx, cmd, registryAdd)
	case CmdRemoveRecipient:
		return h.mutateRegistry(ctx, cmd, registryRemove)
	case CmdBan:
		return h.mutateBlocklist(ctx, cmd, registryAdd)
	case CmdUnban:
		return h.mutateBlocklist(ctx, cmd, registryRemove)
	case CmdListStaged:
		return h.listStaged(ctx)
	case CmdClearStaging:
		h.staging.Clear()
		return h.replier.Reply(ctx, h.owner, "Staging directory cleared.")
	default:
		return nil
	}
}

type registryOp int

const (
	registryAdd registryOp = iota
	registryRemove
)

func (h *CommandHandler) mutateRegistry(ctx context.Context, cmd Command, op registryOp) error {
	usage := "Usage: /add <chat_id>"
	if op == registryRemove {
		usage = "Usage: /remove <chat_id>"
	}
	id, ok, err := h.parseIdentifierArg(ctx, cmd.Arg, usage)
	if err != nil || !ok {
		return err
	}
	if op == registryAdd {
		if !h.recipients.Add(id) {
			return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat id %d is already in the list.", id))
		}
	} else {
		if !h.recipients.Remove(id) {
			return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat id %d not found in the list.", id))
		}
	}
	return h.echoRecipients(ctx)
}

func (h *CommandHandler) mutateBlocklist(ctx context.Context, cmd Command, op registryOp) error {
	usage := "Usage: /ban <chat_id>"
	if op == registryRemove {
		usage = "Usage: /unban <chat_id>"
	}
	id, ok, err := h.parseIdentifierArg(ctx, cmd.Arg, usage)
	if err != nil || !ok {
		return err
	}
	if op == registryAdd {
		if !h.blocklist.Add(id) {
			return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat %d is already banned.", id))
		}
		return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat %d has been banned.", id))
	}
	if !h.blocklist.Remove(id) {
		return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat %d is not banned.", id))
	}
	return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Chat %d has been unbanned.", id))
}

// parseIdentifierArg validates a single integer argument. The bool result is
// false when a rejection notice was sent instead.
func (h *CommandHandler) parseIdentifierArg(ctx context.Context, arg, usage string) (int64, bool, error) {
	if arg == "" || strings.ContainsAny(arg, " \t") {
		return 0, false, h.replier.Reply(ctx, h.owner, usage)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, false, h.replier.Reply(ctx, h.owner, "Invalid chat id format. Must be an integer.")
	}
	return id, true, nil
}

func (h *CommandHandler) listStaged(ctx context.Context) error {
	files, err := h.staging.StagedFiles()
	if err != nil {
		return h.replier.Reply(ctx, h.owner, "Failed to list staged files.")
	}
	if len(files) == 0 {
		return h.replier.Reply(ctx, h.owner, "Number of all files: 0\nNo files found.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Number of all files: %d\n\nName of all files:\n", len(files))
	for i, name := range files {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	return h.replier.Reply(ctx, h.owner, b.String())
}

// HandleDocument processes an uploaded document from the owner. JSON arrays
// replace a registry wholesale; anything else is rejected without mutating
// state.
func (h *CommandHandler) HandleDocument(ctx context.Context, senderID int64, filename string, data []byte) error {
	if senderID != h.owner {
		return nil
	}
	if !strings.EqualFold(filepath.Ext(filename), ".json") {
		return h.replier.Reply(ctx, h.owner, "Please send a JSON file.")
	}
	ids, err := DecodeIdentifierList(data)
	if err != nil {
		return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Failed to parse JSON: %v", err))
	}
	if strings.EqualFold(filepath.Base(filename), h.blocklistFilename) {
		h.blocklist.Replace(ids)
		h.logger.Info("blocklist replaced via upload", "size", len(ids))
		return h.replier.Reply(ctx, h.owner, fmt.Sprintf("Blocklist replaced, %d entries.", len(ids)))
	}
	h.recipients.Replace(ids)
	h.logger.Info("recipient registry replaced via upload", "size", len(ids))
	return h.echoRecipients(ctx)
}

// echoRecipients sends the updated durable list back to the administrator as
// the confirmation artifact.
func (h *CommandHandler) echoRecipients(ctx context.Context) error {
	content, err := h.recipients.Export()
	if err != nil {
		h.logger.Error("failed to export recipient registry", "error", err)
		return h.replier.Reply(ctx, h.owner, "Registry updated, but exporting it failed.")
	}
	return h.replier.ReplyDocument(ctx, h.owner, "recipients.json", content, "Updated recipient list")
}
