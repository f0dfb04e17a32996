package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicom/config"
	"civicom/internal/blob"
	"civicom/internal/conversation"
	"civicom/internal/conversation/model"
	"civicom/internal/conversation/repository"
	"civicom/internal/feed"
	"civicom/internal/user"
	userRepository "civicom/internal/user/repository"
	"civicom/pkg/errors"
	"civicom/pkg/logger"
	"civicom/pkg/utils"
)

const (
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 200 * time.Millisecond
	defaultUploadTimeout = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	previewLimit         = 50
)

type ConversationUsecase struct {
	repo   conversation.ConversationRepository
	users  user.UserRepository
	blobs  blob.Store
	broker *feed.Broker
	logger logger.Logger
	config config.Config

	// Serializes sends to the same conversation from this process.
	// Sends from other participants are ordered at persistence time.
	mu        sync.Mutex
	sendLocks map[uuid.UUID]*sendLock
}

// sendLock is refcounted so the map entry can be dropped once the last
// in-flight send to that conversation releases it.
type sendLock struct {
	mu   sync.Mutex
	refs int
}

func NewConversationUsecase(
	repo conversation.ConversationRepository,
	users user.UserRepository,
	blobs blob.Store,
	broker *feed.Broker,
	logger logger.Logger,
	config config.Config,
) *ConversationUsecase {
	return &ConversationUsecase{
		repo:      repo,
		users:     users,
		blobs:     blobs,
		broker:    broker,
		logger:    logger,
		config:    config,
		sendLocks: map[uuid.UUID]*sendLock{},
	}
}

func (uc *ConversationUsecase) CreateConversation(ctx context.Context, cmd conversation.CreateConversationCommand) (*conversation.ConversationDTO, error) {
	participants := dedupe(append([]string{cmd.CreatorID}, cmd.ParticipantIDs...))
	if cmd.CreatorID == "" || len(participants) == 0 {
		return nil, errors.ErrEmptyParticipants
	}

	for _, p := range participants {
		if _, err := uc.users.GetUserByUsername(ctx, p); err != nil {
			if errors.Is(err, userRepository.ErrUserNotFound) {
				return nil, errors.ErrUnknownParticipant
			}
			uc.logger.Error("database error resolving participant", "participant", p, "err", err)
			return nil, errors.Internal("internal server error")
		}
	}

	conv := &model.Conversation{
		ID:           uuid.New(),
		Participants: participants,
	}
	if err := uc.repo.CreateConversation(ctx, conv); err != nil {
		uc.logger.Error("database error creating conversation", "err", err)
		return nil, errors.ErrStorageWriteFailed(err)
	}

	dto := toConversationDTO(conv)
	for _, p := range participants {
		uc.broker.Publish(feed.InboxScope(p), feed.Event{Op: feed.OpCreate, Conversation: &dto})
	}
	return &dto, nil
}

func (uc *ConversationUsecase) ListConversations(ctx context.Context, userID string) ([]conversation.ConversationDTO, error) {
	convs, err := uc.repo.ListConversations(ctx, userID)
	if err != nil {
		uc.logger.Error("database error listing conversations", "err", err)
		return nil, errors.Internal("internal server error")
	}
	out := make([]conversation.ConversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationDTO(c))
	}
	return out, nil
}

func (uc *ConversationUsecase) ListMessages(ctx context.Context, conversationID uuid.UUID, userID string) ([]conversation.MessageDTO, error) {
	conv, err := uc.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errors.ErrNotParticipant
	}

	msgs, err := uc.repo.ListMessages(ctx, conversationID)
	if err != nil {
		uc.logger.Error("database error listing messages", "err", err)
		return nil, errors.Internal("internal server error")
	}
	out := make([]conversation.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return out, nil
}

// SendMessage validates, uploads the attachment if any, then appends the
// message with a server-assigned (timestamp, seq). The write is retried
// with bounded backoff; if it never lands after a successful upload, the
// blob gets a compensating delete and the caller sees a partial-failure
// error whose retry (same ClientToken) will not re-upload a blob that is
// still stored.
func (uc *ConversationUsecase) SendMessage(ctx context.Context, cmd conversation.SendMessageCommand) (*conversation.MessageDTO, error) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" && len(cmd.Attachment) == 0 {
		return nil, errors.ErrEmptyMessage
	}
	if cmd.ClientToken == uuid.Nil {
		cmd.ClientToken = uuid.New()
	}

	conv, err := uc.getConversation(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(cmd.SenderID) {
		return nil, errors.ErrNotParticipant
	}

	l := uc.lockSend(cmd.ConversationID)
	defer uc.unlockSend(cmd.ConversationID, l)

	// A retried send may have landed already.
	if existing, err := uc.repo.GetMessageByClientToken(ctx, cmd.ClientToken); err == nil {
		dto := toMessageDTO(existing)
		return &dto, nil
	} else if !errors.Is(err, repository.ErrMessageNotFound) {
		uc.logger.Error("database error resolving client token", "err", err)
		return nil, errors.Internal("internal server error")
	}

	var uploadedPath string
	if len(cmd.Attachment) > 0 {
		path := attachmentPath(cmd)
		stored, err := uc.blobs.Exists(ctx, path)
		if err != nil {
			return nil, errors.ErrAttachmentUploadFailed(err)
		}
		if !stored {
			// The upload is the only phase UI cancellation may abort.
			upCtx, cancel := context.WithTimeout(ctx, uc.uploadTimeout())
			err = uc.blobs.Put(upCtx, path, cmd.Attachment)
			cancel()
			if err != nil {
				return nil, errors.ErrAttachmentUploadFailed(err)
			}
		}
		uploadedPath = path
	}

	// Once issued, the write completes or fails server-side even if the
	// UI navigates away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.writeTimeout())
	defer cancel()

	msg := &model.Message{
		ID:             uuid.New(),
		ConversationID: cmd.ConversationID,
		SenderID:       cmd.SenderID,
		Text:           text,
		AttachmentPath: uploadedPath,
		ClientToken:    cmd.ClientToken,
	}
	preview := previewOf(text, cmd.AttachmentName)

	var writeErr error
	for attempt := 1; attempt <= uc.maxAttempts(); attempt++ {
		if attempt > 1 {
			time.Sleep(utils.Backoff(uc.backoffBase(), attempt-1))
		}
		writeErr = uc.repo.AppendMessage(writeCtx, msg, preview)
		if writeErr == nil {
			break
		}
		if errors.Is(writeErr, repository.ErrConversationNotFound) {
			writeErr = errors.ErrConversationNotFound
			break
		}
		// A concurrent send may have won the client_token unique
		// constraint; its row is this send's result, not a transient
		// failure to retry into.
		if existing, tokenErr := uc.repo.GetMessageByClientToken(writeCtx, cmd.ClientToken); tokenErr == nil {
			dto := toMessageDTO(existing)
			return &dto, nil
		}
		uc.logger.Warn("message write failed", "attempt", attempt, "err", writeErr)
	}
	if writeErr != nil {
		if uploadedPath != "" {
			if err := uc.blobs.Delete(context.WithoutCancel(ctx), uploadedPath); err != nil {
				// Best-effort only; an orphaned blob beats a stuck send.
				uc.logger.Error("compensating attachment delete failed", "path", uploadedPath, "err", err)
			}
			return nil, errors.ErrPartialFailure(writeErr)
		}
		if errors.Is(writeErr, errors.ErrConversationNotFound) {
			return nil, writeErr
		}
		return nil, errors.ErrStorageWriteFailed(writeErr)
	}

	dto := toMessageDTO(msg)
	uc.broker.Publish(feed.MessagesScope(cmd.ConversationID), feed.Event{Op: feed.OpCreate, Message: &dto})

	convDTO := toConversationDTO(conv)
	convDTO.LastMessage = preview
	convDTO.LastUpdated = msg.Timestamp
	for _, p := range conv.Participants {
		uc.broker.Publish(feed.InboxScope(p), feed.Event{Op: feed.OpUpdate, Conversation: &convDTO})
	}
	return &dto, nil
}

func (uc *ConversationUsecase) DeleteMessage(ctx context.Context, messageID uuid.UUID, requesterID string) error {
	msg, err := uc.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return errors.ErrNotSender
	}

	if err := uc.repo.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return errors.ErrMessageNotFound
		}
		uc.logger.Error("database error deleting message", "err", err)
		return errors.Internal("internal server error")
	}

	if msg.AttachmentPath != "" {
		if err := uc.blobs.Delete(ctx, msg.AttachmentPath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			uc.logger.Error("attachment delete failed", "path", msg.AttachmentPath, "err", err)
		}
	}

	dto := toMessageDTO(msg)
	uc.broker.Publish(feed.MessagesScope(msg.ConversationID), feed.Event{Op: feed.OpDelete, Message: &dto})
	return nil
}

func (uc *ConversationUsecase) AttachmentURL(ctx context.Context, messageID uuid.UUID, userID string) (string, error) {
	msg, err := uc.getMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if msg.AttachmentPath == "" {
		return "", errors.ErrAttachmentMissing
	}
	conv, err := uc.getConversation(ctx, msg.ConversationID)
	if err != nil {
		return "", err
	}
	if !conv.HasParticipant(userID) {
		return "", errors.ErrNotParticipant
	}
	return uc.blobs.SignedURL(msg.AttachmentPath, uc.config.Blob.URLTTL)
}

func (uc *ConversationUsecase) getConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	conv, err := uc.repo.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, errors.ErrConversationNotFound
		}
		uc.logger.Error("database error loading conversation", "err", err)
		return nil, errors.Internal("internal server error")
	}
	return conv, nil
}

func (uc *ConversationUsecase) getMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	msg, err := uc.repo.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, errors.ErrMessageNotFound
		}
		uc.logger.Error("database error loading message", "err", err)
		return nil, errors.Internal("internal server error")
	}
	return msg, nil
}

func (uc *ConversationUsecase) lockSend(conversationID uuid.UUID) *sendLock {
	uc.mu.Lock()
	l, ok := uc.sendLocks[conversationID]
	if !ok {
		l = &sendLock{}
		uc.sendLocks[conversationID] = l
	}
	l.refs++
	uc.mu.Unlock()

	l.mu.Lock()
	return l
}

func (uc *ConversationUsecase) unlockSend(conversationID uuid.UUID, l *sendLock) {
	l.mu.Unlock()

	uc.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(uc.sendLocks, conversationID)
	}
	uc.mu.Unlock()
}

func (uc *ConversationUsecase) maxAttempts() int {
	if uc.config.Send.MaxAttempts > 0 {
		return uc.config.Send.MaxAttempts
	}
	return defaultMaxAttempts
}

func (uc *ConversationUsecase) backoffBase() time.Duration {
	if uc.config.Send.BackoffBase > 0 {
		return uc.config.Send.BackoffBase
	}
	return defaultBackoffBase
}

func (uc *ConversationUsecase) uploadTimeout() time.Duration {
	if uc.config.Send.UploadTimeout > 0 {
		return uc.config.Send.UploadTimeout
	}
	return defaultUploadTimeout
}

func (uc *ConversationUsecase) writeTimeout() time.Duration {
	if uc.config.Send.WriteTimeout > 0 {
		return uc.config.Send.WriteTimeout
	}
	return defaultWriteTimeout
}

// attachmentPath derives a stable path from the correlation token, so a
// retried send finds the blob it already stored.
func attachmentPath(cmd conversation.SendMessageCommand) string {
	name := cmd.AttachmentName
	if name == "" {
		name = "attachment"
	}
	return "attachments/messages/" + cmd.SenderID + "/" +
		cmd.ConversationID.String() + "/" + cmd.ClientToken.String() + "-" + name
}

func previewOf(text, attachmentName string) string {
	if text == "" {
		if attachmentName != "" {
			return attachmentName
		}
		return "Attachment"
	}
	runes := []rune(text)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit])
	}
	return text
}

func dedupe(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toConversationDTO(c *model.Conversation) conversation.ConversationDTO {
	return conversation.ConversationDTO{
		ID:           c.ID,
		Participants: append([]string(nil), c.Participants...),
		LastMessage:  c.LastMessage,
		LastUpdated:  c.LastUpdated,
	}
}

func toMessageDTO(m *model.Message) conversation.MessageDTO {
	return conversation.MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentPath: m.AttachmentPath,
		ClientToken:    m.ClientToken,
		Timestamp:      m.Timestamp,
		Seq:            m.Seq,
	}
}
