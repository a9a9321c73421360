package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/driftchat/driftchat/internal/domain/entity"
	"github.com/driftchat/driftchat/internal/domain/repository"
	"github.com/driftchat/driftchat/internal/infrastructure/persistence/models"
	domainErrors "github.com/driftchat/driftchat/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormChatLog is the database-backed chat log. Writes publish change
// notifications so live snapshot subscribers converge without polling.
type GormChatLog struct {
	db       *gorm.DB
	notifier *notifier
	logger   *zap.Logger
}

// NewGormChatLog creates the chat log over an opened database.
func NewGormChatLog(db *gorm.DB, logger *zap.Logger) *GormChatLog {
	return &GormChatLog{
		db:       db,
		notifier: newNotifier(logger, 256),
		logger:   logger.With(zap.String("component", "chat-log")),
	}
}

var _ repository.ChatLog = (*GormChatLog)(nil)

// Close stops the subscription dispatcher.
func (l *GormChatLog) Close() {
	l.notifier.close()
}

// AppendMessage stores one message at the end of the conversation's log.
func (l *GormChatLog) AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	model := toMessageModel(conversationID, message)
	if err := l.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to append message: " + err.Error())
	}

	l.notifier.notify(changeMessages, conversationID)
	return nil
}

// MessagesBefore returns the page of up to limit messages adjacent to and
// strictly older than the cursor, ascending by creation time. Ties on
// created_at fall back to id order, matching the snapshot ordering.
func (l *GormChatLog) MessagesBefore(ctx context.Context, conversationID string, before repository.Cursor, limit int) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := l.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("created_at < ? OR (created_at = ? AND id < ?)", before.CreatedAt, before.CreatedAt, before.ID).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to page messages: " + err.Error())
	}

	// The query walks newest-first to pick the page next to the cursor;
	// callers expect ascending order.
	messages := make([]*entity.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = toMessageEntity(&row)
	}
	return messages, nil
}

// SubscribeMessages delivers the full ordered log now and after every
// change.
func (l *GormChatLog) SubscribeMessages(conversationID string, fn repository.MessageSnapshotFn) (repository.CancelFunc, error) {
	deliver := func() {
		snapshot, err := l.loadMessages(conversationID)
		if err != nil {
			l.logger.Error("Failed to load message snapshot",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			return
		}
		fn(snapshot)
	}

	cancel := l.notifier.subscribe(changeMessages, conversationID, deliver)
	deliver()
	return repository.CancelFunc(cancel), nil
}

// SubscribeConversation delivers the metadata record now and after every
// change; nil when the record does not exist.
func (l *GormChatLog) SubscribeConversation(conversationID string, fn repository.ConversationSnapshotFn) (repository.CancelFunc, error) {
	deliver := func() {
		conv, err := l.GetConversation(context.Background(), conversationID)
		if err != nil && !domainErrors.IsNotFound(err) {
			l.logger.Error("Failed to load conversation snapshot",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			return
		}
		fn(conv)
	}

	cancel := l.notifier.subscribe(changeConversation, conversationID, deliver)
	deliver()
	return repository.CancelFunc(cancel), nil
}

// SaveConversation creates or updates the metadata record last-write-wins.
func (l *GormChatLog) SaveConversation(ctx context.Context, conversation *entity.Conversation) error {
	model := toConversationModel(conversation)
	if err := l.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save conversation: " + err.Error())
	}

	l.notifier.notify(changeConversation, conversation.ID)
	return nil
}

// GetConversation fetches the metadata record once.
func (l *GormChatLog) GetConversation(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	var model models.ConversationModel
	if err := l.db.WithContext(ctx).First(&model, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.NewInternalError("failed to find conversation: " + err.Error())
	}
	return toConversationEntity(&model), nil
}

// ListConversations returns the user's live conversations, newest first.
func (l *GormChatLog) ListConversations(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	var rows []models.ConversationModel
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND deleted = ?", userID, false).
		Order("updated_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list conversations: " + err.Error())
	}

	conversations := make([]*entity.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, toConversationEntity(&row))
	}
	return conversations, nil
}

// ArchiveConversation flips the archived flag.
func (l *GormChatLog) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return l.setConversationFlag(ctx, conversationID, "archived", archived)
}

// SoftDeleteConversation marks the conversation deleted; the log remains.
func (l *GormChatLog) SoftDeleteConversation(ctx context.Context, conversationID string) error {
	return l.setConversationFlag(ctx, conversationID, "deleted", true)
}

func (l *GormChatLog) setConversationFlag(ctx context.Context, conversationID, column string, value bool) error {
	result := l.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{column: value, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update conversation: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}

	l.notifier.notify(changeConversation, conversationID)
	return nil
}

func (l *GormChatLog) loadMessages(conversationID string) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := l.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := make([]*entity.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, toMessageEntity(&row))
	}
	return messages, nil
}

// Conversion between entities and rows.

func toMessageModel(conversationID string, m *entity.Message) *models.MessageModel {
	return &models.MessageModel{
		ID:             m.ID,
		ConversationID: conversationID,
		Text:           m.Text,
		Sender:         string(m.Sender),
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
		Generated:      m.Generated,
	}
}

func toMessageEntity(row *models.MessageModel) *entity.Message {
	return &entity.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Text:           row.Text,
		Sender:         entity.Sender(row.Sender),
		Timestamp:      row.Timestamp,
		CreatedAt:      row.CreatedAt,
		Generated:      row.Generated,
	}
}

func toConversationModel(c *entity.Conversation) *models.ConversationModel {
	model := &models.ConversationModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Archived:  c.Archived,
		Deleted:   c.Deleted,
	}
	if c.LastMessage != nil {
		model.LastMessageText = c.LastMessage.Text
		model.LastMessageSender = string(c.LastMessage.Sender)
		at := c.LastMessage.CreatedAt
		model.LastMessageAt = &at
	}
	return model
}

func toConversationEntity(row *models.ConversationModel) *entity.Conversation {
	conv := &entity.Conversation{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Archived:  row.Archived,
		Deleted:   row.Deleted,
	}
	if row.LastMessageAt != nil {
		conv.LastMessage = &entity.LastMessage{
			Text:      row.LastMessageText,
			Sender:    entity.Sender(row.LastMessageSender),
			CreatedAt: *row.LastMessageAt,
		}
	}
	return conv
}
