package data

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"MsgBridge/internal/conf"
	"MsgBridge/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// messagesFileName is the per-deposition message file inside the archive.
const messagesFileName = "messages.cif"

// cifCategory is the category prefix every row in the message file carries,
// matching the relational table the database backend writes to.
const cifCategory = "_pdbx_deposition_message_info."

// CifBackend is the legacy flat-file message store. Messages live in one
// file per deposition under the archive root, as line-oriented category
// rows with quoted values. Writes replace the whole file atomically via
// temp file and rename; a process-wide mutex serializes access.
type CifBackend struct {
	root   string
	logger *log.Helper
	ready  bool

	mu sync.Mutex
}

// NewCifBackend creates the file store rooted at the configured archive
// directory. A failure to create the root leaves the backend wired but not
// ready; the router reports it as failed instead of aborting startup.
func NewCifBackend(c *conf.Data, logger log.Logger) *CifBackend {
	helper := log.NewHelper(logger)

	b := &CifBackend{logger: helper}
	if c == nil || c.Cif == nil || c.Cif.ArchiveDir == "" {
		helper.Error("cif archive directory not configured")
		return b
	}

	b.root = c.Cif.ArchiveDir
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		helper.Errorf("failed to create cif archive directory %s: %v", b.root, err)
		return b
	}
	b.ready = true

	helper.Infof("cif archive opened at %s", b.root)
	return b
}

// Name returns the stable backend identifier.
func (b *CifBackend) Name() string { return model.BackendCIF }

// Ready reports whether the archive directory is usable.
func (b *CifBackend) Ready() bool { return b.ready }

// WriteMessage appends one message to the deposition's file. The file is
// rewritten in full and swapped in with a rename, so readers never observe
// a half-written file.
func (b *CifBackend) WriteMessage(ctx context.Context, msg *model.Message) error {
	if !b.ready {
		return fmt.Errorf("cif backend not available")
	}
	if err := validDepositionID(msg.DepositionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Join(b.root, msg.DepositionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create deposition directory: %w", err)
	}

	path := filepath.Join(dir, messagesFileName)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read message file: %w", err)
	}

	var sb strings.Builder
	sb.Write(existing)
	writeMessageBlock(&sb, msg)

	return replaceFile(dir, path, []byte(sb.String()))
}

// ReadMessages returns all messages for a deposition ordered by timestamp.
// A deposition with no file yields an empty slice.
func (b *CifBackend) ReadMessages(ctx context.Context, depositionID string) ([]model.Message, error) {
	if !b.ready {
		return nil, fmt.Errorf("cif backend not available")
	}
	if err := validDepositionID(depositionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, err := b.readDepositionLocked(depositionID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// ReadMessage scans the archive for a single message id. The archive is a
// transition-period store, so a linear scan over deposition directories is
// acceptable here.
func (b *CifBackend) ReadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if !b.ready {
		return nil, fmt.Errorf("cif backend not available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("read archive root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := b.readDepositionLocked(entry.Name())
		if err != nil {
			b.logger.Warnf("skipping unreadable deposition %s: %v", entry.Name(), err)
			continue
		}
		for i := range msgs {
			if msgs[i].MessageID == messageID {
				return &msgs[i], nil
			}
		}
	}
	return nil, nil
}

// readDepositionLocked parses one deposition file. Caller holds the mutex.
func (b *CifBackend) readDepositionLocked(depositionID string) ([]model.Message, error) {
	path := filepath.Join(b.root, depositionID, messagesFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("open message file: %w", err)
	}
	defer f.Close()

	var (
		msgs    []model.Message
		current map[string]string
	)
	flush := func() {
		if len(current) > 0 {
			msgs = append(msgs, messageFromFields(current))
		}
		current = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "#":
			flush()
		case strings.HasPrefix(line, cifCategory):
			rest := line[len(cifCategory):]
			sep := strings.IndexAny(rest, " \t")
			if sep < 0 {
				continue
			}
			key := rest[:sep]
			raw := strings.TrimSpace(rest[sep+1:])
			value, err := strconv.Unquote(raw)
			if err != nil {
				// Tolerate hand-edited unquoted values.
				value = raw
			}
			if current == nil {
				current = make(map[string]string, 11)
			}
			current[key] = value
		default:
			// Unknown rows and comments are tolerated and ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan message file: %w", err)
	}
	flush()

	return msgs, nil
}

// writeMessageBlock serializes one message as category rows followed by a
// "#" terminator. Values are Go-quoted so embedded newlines survive the
// line-oriented format.
func writeMessageBlock(sb *strings.Builder, msg *model.Message) {
	put := func(key, value string) {
		sb.WriteString(cifCategory)
		sb.WriteString(key)
		sb.WriteByte(' ')
		sb.WriteString(strconv.Quote(value))
		sb.WriteByte('\n')
	}
	put("message_id", msg.MessageID)
	put("deposition_data_set_id", msg.DepositionID)
	put("timestamp", msg.Timestamp.UTC().Format(time.RFC3339))
	put("sender", msg.Sender)
	put("context_type", msg.ContextType)
	put("context_value", msg.ContextValue)
	put("parent_message_id", msg.ParentMessageID)
	put("message_subject", msg.Subject)
	put("message_text", msg.Text)
	put("message_type", msg.MessageType)
	put("send_status", msg.SendStatus)
	sb.WriteString("#\n")
}

func messageFromFields(fields map[string]string) model.Message {
	msg := model.Message{
		MessageID:       fields["message_id"],
		DepositionID:    fields["deposition_data_set_id"],
		Sender:          fields["sender"],
		ContextType:     fields["context_type"],
		ContextValue:    fields["context_value"],
		ParentMessageID: fields["parent_message_id"],
		Subject:         fields["message_subject"],
		Text:            fields["message_text"],
		MessageType:     fields["message_type"],
		SendStatus:      fields["send_status"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["timestamp"]); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// replaceFile writes content to a temp file in dir and renames it over
// path, so the swap is atomic on POSIX filesystems.
func replaceFile(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".messages-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace message file: %w", err)
	}
	return nil
}

// validDepositionID rejects ids that would escape the archive root.
func validDepositionID(id string) error {
	if id == "" {
		return fmt.Errorf("deposition id is empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("invalid deposition id %q", id)
	}
	return nil
}
