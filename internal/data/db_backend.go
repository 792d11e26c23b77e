package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MsgBridge/internal/model"
	pkgerrors "MsgBridge/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// MessageInfo is the GORM model for one deposition message row. The table
// mirrors the CIF category the file backend writes, so consistency checks
// compare like with like.
type MessageInfo struct {
	OrdinalID       int64     `gorm:"column:ordinal_id;primaryKey;autoIncrement"`
	MessageID       string    `gorm:"column:message_id;size:64;uniqueIndex"`
	DepositionID    string    `gorm:"column:deposition_data_set_id;size:32;index"`
	Timestamp       time.Time `gorm:"column:timestamp"`
	Sender          string    `gorm:"column:sender;size:128"`
	ContextType     string    `gorm:"column:context_type;size:64"`
	ContextValue    string    `gorm:"column:context_value;size:128"`
	ParentMessageID string    `gorm:"column:parent_message_id;size:64"`
	Subject         string    `gorm:"column:message_subject;size:512"`
	Text            string    `gorm:"column:message_text;type:longtext"`
	MessageType     string    `gorm:"column:message_type;size:32"`
	SendStatus      string    `gorm:"column:send_status;size:4"`
}

// TableName maps the model to the wwPDB message table.
func (MessageInfo) TableName() string {
	return "pdbx_deposition_message_info"
}

// DbBackend is the relational message store with a redis read-through cache
// in front of list reads. A nil *gorm.DB (database not configured or down
// at startup) leaves the backend wired but not ready.
type DbBackend struct {
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewDbBackend creates the database backend over the shared GORM client.
func NewDbBackend(d *Data, db *gorm.DB, logger log.Logger) *DbBackend {
	return &DbBackend{
		db:     db,
		cache:  d.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// Name returns the stable backend identifier.
func (b *DbBackend) Name() string { return model.BackendDatabase }

// Ready reports whether a database connection was established at startup.
func (b *DbBackend) Ready() bool { return b.db != nil }

// WriteMessage inserts one message row and invalidates the deposition's
// cached list.
func (b *DbBackend) WriteMessage(ctx context.Context, msg *model.Message) error {
	if b.db == nil {
		return fmt.Errorf("database backend not available")
	}

	row := rowFromMessage(msg)
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		b.logger.Errorw("msg", "message insert failed",
			"deposition_id", msg.DepositionID,
			"message_id", msg.MessageID,
			"error_type", dbErr.Type,
			"error", err)
		if pkgerrors.IsDuplicateKeyError(err) {
			return fmt.Errorf("message %s already stored: %w", msg.MessageID, err)
		}
		return dbErr
	}

	b.invalidate(ctx, msg.DepositionID)
	return nil
}

// ReadMessages returns all messages for a deposition ordered by timestamp,
// served from cache when possible. Cache trouble is logged and bypassed.
func (b *DbBackend) ReadMessages(ctx context.Context, depositionID string) ([]model.Message, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database backend not available")
	}

	key := BuildCacheKey(CacheKeyMessages, depositionID)
	if b.cache != nil {
		var cached []model.Message
		err := b.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheNotFound) {
			b.logger.Warnw("msg", "message cache read failed", "key", key, "error", err)
		}
	}

	var rows []MessageInfo
	err := b.db.WithContext(ctx).
		Where("deposition_data_set_id = ?", depositionID).
		Order("timestamp ASC, ordinal_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}

	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, messageFromRow(&rows[i]))
	}

	if b.cache != nil {
		if err := b.cache.Set(ctx, key, msgs, TTLMessages); err != nil {
			b.logger.Warnw("msg", "message cache write failed", "key", key, "error", err)
		}
	}
	return msgs, nil
}

// ReadMessage returns one message by id, or nil when absent.
func (b *DbBackend) ReadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database backend not available")
	}

	var row MessageInfo
	err := b.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.ClassifyDBError(err)
	}

	msg := messageFromRow(&row)
	return &msg, nil
}

// invalidate drops the cached list after a write. A failed invalidation is
// tolerable because the TTL bounds the staleness window.
func (b *DbBackend) invalidate(ctx context.Context, depositionID string) {
	if b.cache == nil {
		return
	}
	key := BuildCacheKey(CacheKeyMessages, depositionID)
	if err := b.cache.Delete(ctx, key); err != nil {
		b.logger.Warnw("msg", "message cache invalidation failed", "key", key, "error", err)
	}
}

func rowFromMessage(msg *model.Message) MessageInfo {
	return MessageInfo{
		MessageID:       msg.MessageID,
		DepositionID:    msg.DepositionID,
		Timestamp:       msg.Timestamp.UTC(),
		Sender:          msg.Sender,
		ContextType:     msg.ContextType,
		ContextValue:    msg.ContextValue,
		ParentMessageID: msg.ParentMessageID,
		Subject:         msg.Subject,
		Text:            msg.Text,
		MessageType:     msg.MessageType,
		SendStatus:      msg.SendStatus,
	}
}

func messageFromRow(row *MessageInfo) model.Message {
	return model.Message{
		MessageID:       row.MessageID,
		DepositionID:    row.DepositionID,
		Timestamp:       row.Timestamp,
		Sender:          row.Sender,
		ContextType:     row.ContextType,
		ContextValue:    row.ContextValue,
		ParentMessageID: row.ParentMessageID,
		Subject:         row.Subject,
		Text:            row.Text,
		MessageType:     row.MessageType,
		SendStatus:      row.SendStatus,
	}
}
