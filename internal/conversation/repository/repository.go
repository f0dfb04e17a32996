package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"civicom/internal/conversation/model"
	"civicom/pkg/logger"
)

type ConversationRepository struct {
	db     *bun.DB
	logger *logger.Logger
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

func NewConversationRepository(db *bun.DB, logger logger.Logger) *ConversationRepository {
	return &ConversationRepository{
		db:     db,
		logger: &logger,
	}
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, conv *model.Conversation) error {

	_, err := r.db.NewInsert().Model(conv).Returning("*").Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.CreateConversation.Insert: ")
	}
	return nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {

	conv := new(model.Conversation)
	err := r.db.NewSelect().Model(conv).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrap(err, "conversationRepo.GetConversation.Scan: ")
	}
	return conv, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {

	var convs []*model.Conversation
	err := r.db.NewSelect().
		Model(&convs).
		Where("? = ANY(participants)", userID).
		OrderExpr("last_updated DESC NULLS LAST").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListConversations.Scan: ")
	}
	return convs, nil
}

// AppendMessage locks the conversation row, assigns the next
// (timestamp, seq) pair, inserts the message and updates the projection
// in one transaction. The timestamp is the server clock, floored at
// lastUpdated + 1µs so per-conversation order stays strictly monotonic
// under clock skew.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *model.Message, preview string) error {

	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		conv := new(model.Conversation)
		err := tx.NewSelect().
			Model(conv).
			Where("id = ?", msg.ConversationID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return errors.Wrap(err, "conversationRepo.AppendMessage.LockConversation: ")
		}

		var now time.Time
		if err := tx.QueryRowContext(ctx, "SELECT now()").Scan(&now); err != nil {
			return errors.Wrap(err, "conversationRepo.AppendMessage.ServerTime: ")
		}

		ts := now
		if !conv.LastUpdated.IsZero() {
			if floor := conv.LastUpdated.Add(time.Microsecond); ts.Before(floor) {
				ts = floor
			}
		}
		msg.Timestamp = ts
		msg.Seq = conv.LastSeq + 1

		if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
			return errors.Wrap(err, "conversationRepo.AppendMessage.InsertMessage: ")
		}

		_, err = tx.NewUpdate().
			Model((*model.Conversation)(nil)).
			Set("last_message = ?", preview).
			Set("last_updated = ?", ts).
			Set("last_seq = ?", msg.Seq).
			Set("updated_at = ?", now).
			Where("id = ?", msg.ConversationID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "conversationRepo.AppendMessage.UpdateProjection: ")
		}
		return nil
	})
}

func (r *ConversationRepository) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {

	msg := new(model.Message)
	err := r.db.NewSelect().Model(msg).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "conversationRepo.GetMessage.Scan: ")
	}
	return msg, nil
}

func (r *ConversationRepository) GetMessageByClientToken(ctx context.Context, token uuid.UUID) (*model.Message, error) {

	msg := new(model.Message)
	err := r.db.NewSelect().Model(msg).Where("client_token = ?", token).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "conversationRepo.GetMessageByClientToken.Scan: ")
	}
	return msg, nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*model.Message, error) {

	var msgs []*model.Message
	err := r.db.NewSelect().
		Model(&msgs).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC", "seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListMessages.Scan: ")
	}
	return msgs, nil
}

func (r *ConversationRepository) DeleteMessage(ctx context.Context, id uuid.UUID) error {

	res, err := r.db.NewDelete().Model((*model.Message)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.DeleteMessage.Delete: ")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}
