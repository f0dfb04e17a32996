package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicom/config"
	blobMocks "civicom/internal/blob/mocks"
	"civicom/internal/conversation"
	"civicom/internal/conversation/mocks"
	"civicom/internal/conversation/model"
	"civicom/internal/conversation/repository"
	"civicom/internal/feed"
	userMocks "civicom/internal/user/mocks"
	userModels "civicom/internal/user/model"
	userRepository "civicom/internal/user/repository"
	appErrors "civicom/pkg/errors"
	"civicom/pkg/logger"
)

var testSendCfg = config.Config{
	Send: config.SendConfig{MaxAttempts: 3, BackoffBase: time.Millisecond},
}

type ucMocks struct {
	repo   *mocks.MockConversationRepository
	users  *userMocks.MockUserRepository
	blobs  *blobMocks.MockStore
	broker *feed.Broker
}

func newTestUsecase(t *testing.T) (*ConversationUsecase, ucMocks) {
	ctrl := gomock.NewController(t)
	m := ucMocks{
		repo:   mocks.NewMockConversationRepository(ctrl),
		users:  userMocks.NewMockUserRepository(ctrl),
		blobs:  blobMocks.NewMockStore(ctrl),
		broker: feed.NewBroker(logger.Logger{}),
	}
	uc := NewConversationUsecase(m.repo, m.users, m.blobs, m.broker, logger.Logger{}, testSendCfg)
	return uc, m
}

func mustReceive(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return feed.Event{}
	}
}

func TestConversationUsecase_SendMessage(t *testing.T) {
	convID := uuid.New()
	validConv := &model.Conversation{
		ID:           convID,
		Participants: []string{"alice", "bob"},
	}
	token := uuid.New()

	t.Run("happy path - text only", func(t *testing.T) {
		uc, m := newTestUsecase(t)
		sub := m.broker.Subscribe(feed.MessagesScope(convID))
		inboxSub := m.broker.Subscribe(feed.InboxScope("bob"))

		assigned := time.Now()
		g := m.repo.EXPECT()
		g.GetConversation(gomock.Any(), convID).Return(validConv, nil)
		g.GetMessageByClientToken(gomock.Any(), token).Return(nil, repository.ErrMessageNotFound)
		g.AppendMessage(gomock.Any(), gomock.Any(), "hi").
			DoAndReturn(func(_ context.Context, msg *model.Message, _ string) error {
				msg.Timestamp = assigned
				msg.Seq = 1
				return nil
			})

		msg, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
		})
		require.NoError(t, err)
		assert.Equal(t, convID, msg.ConversationID)
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, int64(1), msg.Seq)
		assert.True(t, msg.Timestamp.Equal(assigned))

		ev := mustReceive(t, sub)
		assert.Equal(t, feed.OpCreate, ev.Op)
		require.NotNil(t, ev.Message)
		assert.Equal(t, msg.ID, ev.Message.ID)

		inboxEv := mustReceive(t, inboxSub)
		assert.Equal(t, feed.OpUpdate, inboxEv.Op)
		require.NotNil(t, inboxEv.Conversation)
		assert.Equal(t, "hi", inboxEv.Conversation.LastMessage)
		assert.True(t, inboxEv.Conversation.LastUpdated.Equal(assigned))
	})

	t.Run("sad path - empty message rejected before any storage call", func(t *testing.T) {
		uc, _ := newTestUsecase(t)

		// No EXPECTs registered: any repo, blob or upload call fails the test.
		_, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "   ",
		})
		assert.ErrorIs(t, err, appErrors.ErrEmptyMessage)
	})

	t.Run("sad path - sender not a participant", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)

		_, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "mallory",
			Text:           "hi",
		})
		assert.ErrorIs(t, err, appErrors.ErrNotParticipant)
	})

	t.Run("sad path - upload failure aborts before any write", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		cmd := conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Attachment:     []byte("payload"),
			AttachmentName: "photo.png",
			ClientToken:    token,
		}
		path := attachmentPath(cmd)

		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)
		m.repo.EXPECT().GetMessageByClientToken(gomock.Any(), token).Return(nil, repository.ErrMessageNotFound)
		m.blobs.EXPECT().Exists(gomock.Any(), path).Return(false, nil)
		m.blobs.EXPECT().Put(gomock.Any(), path, []byte("payload")).Return(errors.New("disk full"))

		_, err := uc.SendMessage(context.Background(), cmd)
		require.Error(t, err)
		assert.Equal(t, appErrors.CodeUnavailable, appErrors.CodeOf(err))
	})

	t.Run("sad path - partial failure, then retry does not re-upload", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		cmd := conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Attachment:     []byte("payload"),
			AttachmentName: "photo.png",
			ClientToken:    token,
		}
		path := attachmentPath(cmd)
		outage := errors.New("storage outage")

		// First send: upload succeeds, every write attempt fails, the
		// compensating delete is issued (and itself fails, logged only).
		// The token is checked before each send and again after each
		// failed write attempt, and never resolves during the outage.
		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil).Times(2)
		m.repo.EXPECT().GetMessageByClientToken(gomock.Any(), token).
			Return(nil, repository.ErrMessageNotFound).Times(5)
		m.blobs.EXPECT().Exists(gomock.Any(), path).Return(false, nil)
		m.blobs.EXPECT().Put(gomock.Any(), path, []byte("payload")).Return(nil).Times(1)
		m.repo.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), "photo.png").Return(outage).Times(3)
		m.blobs.EXPECT().Delete(gomock.Any(), path).Return(outage)

		_, err := uc.SendMessage(context.Background(), cmd)
		require.Error(t, err)
		assert.Equal(t, appErrors.CodeAborted, appErrors.CodeOf(err))

		// Retry with the same correlation token: the blob is still
		// there, so Exists short-circuits the upload (Put above allows
		// exactly one call) and the write goes through.
		m.blobs.EXPECT().Exists(gomock.Any(), path).Return(true, nil)
		m.repo.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), "photo.png").
			DoAndReturn(func(_ context.Context, msg *model.Message, _ string) error {
				msg.Timestamp = time.Now()
				msg.Seq = 1
				return nil
			})

		msg, err := uc.SendMessage(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, path, msg.AttachmentPath)
	})

	t.Run("idempotent - concurrent duplicate send resolves to the winner's row", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		existing := &model.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
			Timestamp:      time.Now(),
			Seq:            7,
		}
		// Another writer lands the same token between the pre-check and
		// the append; the unique violation is permanent, so the write is
		// not retried and the winner's row comes back.
		g := m.repo.EXPECT()
		g.GetConversation(gomock.Any(), convID).Return(validConv, nil)
		g.GetMessageByClientToken(gomock.Any(), token).Return(nil, repository.ErrMessageNotFound)
		g.AppendMessage(gomock.Any(), gomock.Any(), "hi").
			Return(errors.New(`duplicate key value violates unique constraint "messages_client_token_key"`)).
			Times(1)
		g.GetMessageByClientToken(gomock.Any(), token).Return(existing, nil)

		msg, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
		})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, msg.ID)
		assert.Equal(t, int64(7), msg.Seq)
	})

	t.Run("send lock is released and pruned after the send", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		g := m.repo.EXPECT()
		g.GetConversation(gomock.Any(), convID).Return(validConv, nil)
		g.GetMessageByClientToken(gomock.Any(), token).Return(nil, repository.ErrMessageNotFound)
		g.AppendMessage(gomock.Any(), gomock.Any(), "hi").Return(nil)

		_, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
		})
		require.NoError(t, err)

		uc.mu.Lock()
		remaining := len(uc.sendLocks)
		uc.mu.Unlock()
		assert.Zero(t, remaining, "per-conversation locks must not accumulate")
	})

	t.Run("idempotent - token already persisted returns existing message", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		existing := &model.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
			Timestamp:      time.Now(),
			Seq:            4,
		}
		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)
		m.repo.EXPECT().GetMessageByClientToken(gomock.Any(), token).Return(existing, nil)

		msg, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
			ClientToken:    token,
		})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, msg.ID)
		assert.Equal(t, int64(4), msg.Seq)
	})

	t.Run("sad path - conversation missing", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.repo.EXPECT().GetConversation(gomock.Any(), convID).
			Return(nil, repository.ErrConversationNotFound)

		_, err := uc.SendMessage(context.Background(), conversation.SendMessageCommand{
			ConversationID: convID,
			SenderID:       "alice",
			Text:           "hi",
		})
		assert.ErrorIs(t, err, appErrors.ErrConversationNotFound)
	})
}

func TestConversationUsecase_CreateConversation(t *testing.T) {
	t.Run("happy path - dedupes and includes creator", func(t *testing.T) {
		uc, m := newTestUsecase(t)
		inboxSub := m.broker.Subscribe(feed.InboxScope("bob"))

		for _, name := range []string{"alice", "bob"} {
			m.users.EXPECT().GetUserByUsername(gomock.Any(), name).
				Return(&userModels.User{ID: uuid.New(), Username: name, Name: name}, nil)
		}
		m.repo.EXPECT().CreateConversation(gomock.Any(), gomock.Any()).Return(nil)

		dto, err := uc.CreateConversation(context.Background(), conversation.CreateConversationCommand{
			CreatorID:      "alice",
			ParticipantIDs: []string{"bob", "alice", "bob"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, dto.Participants)

		ev := mustReceive(t, inboxSub)
		assert.Equal(t, feed.OpCreate, ev.Op)
		require.NotNil(t, ev.Conversation)
		assert.Equal(t, dto.ID, ev.Conversation.ID)
	})

	t.Run("sad path - unknown participant", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.users.EXPECT().GetUserByUsername(gomock.Any(), "alice").
			Return(&userModels.User{Username: "alice"}, nil)
		m.users.EXPECT().GetUserByUsername(gomock.Any(), "ghost").
			Return(nil, userRepository.ErrUserNotFound)

		_, err := uc.CreateConversation(context.Background(), conversation.CreateConversationCommand{
			CreatorID:      "alice",
			ParticipantIDs: []string{"ghost"},
		})
		assert.ErrorIs(t, err, appErrors.ErrUnknownParticipant)
	})

	t.Run("sad path - no creator", func(t *testing.T) {
		uc, _ := newTestUsecase(t)

		_, err := uc.CreateConversation(context.Background(), conversation.CreateConversationCommand{})
		assert.ErrorIs(t, err, appErrors.ErrEmptyParticipants)
	})
}

func TestConversationUsecase_ListMessages(t *testing.T) {
	convID := uuid.New()
	validConv := &model.Conversation{ID: convID, Participants: []string{"alice", "bob"}}

	t.Run("sad path - non-participant denied", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)

		_, err := uc.ListMessages(context.Background(), convID, "mallory")
		assert.ErrorIs(t, err, appErrors.ErrNotParticipant)
	})

	t.Run("happy path", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		msgs := []*model.Message{
			{ID: uuid.New(), ConversationID: convID, SenderID: "alice", Text: "hi", Seq: 1},
			{ID: uuid.New(), ConversationID: convID, SenderID: "bob", Text: "hello", Seq: 2},
		}
		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)
		m.repo.EXPECT().ListMessages(gomock.Any(), convID).Return(msgs, nil)

		out, err := uc.ListMessages(context.Background(), convID, "alice")
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "hi", out[0].Text)
		assert.Equal(t, "hello", out[1].Text)
	})
}

func TestConversationUsecase_DeleteMessage(t *testing.T) {
	convID := uuid.New()
	msgID := uuid.New()

	t.Run("sad path - only the sender may delete", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.repo.EXPECT().GetMessage(gomock.Any(), msgID).
			Return(&model.Message{ID: msgID, ConversationID: convID, SenderID: "alice"}, nil)

		err := uc.DeleteMessage(context.Background(), msgID, "bob")
		assert.ErrorIs(t, err, appErrors.ErrNotSender)
	})

	t.Run("happy path - deletes blob and emits delete event", func(t *testing.T) {
		uc, m := newTestUsecase(t)
		sub := m.broker.Subscribe(feed.MessagesScope(convID))

		msg := &model.Message{
			ID:             msgID,
			ConversationID: convID,
			SenderID:       "alice",
			AttachmentPath: "attachments/messages/alice/x/y-photo.png",
		}
		m.repo.EXPECT().GetMessage(gomock.Any(), msgID).Return(msg, nil)
		m.repo.EXPECT().DeleteMessage(gomock.Any(), msgID).Return(nil)
		m.blobs.EXPECT().Delete(gomock.Any(), msg.AttachmentPath).Return(nil)

		require.NoError(t, uc.DeleteMessage(context.Background(), msgID, "alice"))

		ev := mustReceive(t, sub)
		assert.Equal(t, feed.OpDelete, ev.Op)
		require.NotNil(t, ev.Message)
		assert.Equal(t, msgID, ev.Message.ID)
	})
}

func TestConversationUsecase_AttachmentURL(t *testing.T) {
	convID := uuid.New()
	msgID := uuid.New()
	validConv := &model.Conversation{ID: convID, Participants: []string{"alice", "bob"}}

	t.Run("happy path", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		msg := &model.Message{ID: msgID, ConversationID: convID, SenderID: "alice",
			AttachmentPath: "attachments/messages/alice/c/t-photo.png"}
		m.repo.EXPECT().GetMessage(gomock.Any(), msgID).Return(msg, nil)
		m.repo.EXPECT().GetConversation(gomock.Any(), convID).Return(validConv, nil)
		m.blobs.EXPECT().SignedURL(msg.AttachmentPath, gomock.Any()).
			Return("http://example.test/files/x?sig=abc", nil)

		url, err := uc.AttachmentURL(context.Background(), msgID, "bob")
		require.NoError(t, err)
		assert.Contains(t, url, "sig=")
	})

	t.Run("sad path - message has no attachment", func(t *testing.T) {
		uc, m := newTestUsecase(t)

		m.repo.EXPECT().GetMessage(gomock.Any(), msgID).
			Return(&model.Message{ID: msgID, ConversationID: convID, SenderID: "alice", Text: "hi"}, nil)

		_, err := uc.AttachmentURL(context.Background(), msgID, "alice")
		assert.ErrorIs(t, err, appErrors.ErrAttachmentMissing)
	})
}
