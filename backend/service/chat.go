package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
)

const (
	MaxChatFileBytes  = 10 << 20
	defaultPageSize   = 50
	maxPageSize       = 200
	messageKindText   = "text"
	messageKindFile   = "file"
	messageKindNotice = "notification"
)

// FileStore stores single objects and resolves their public URL.
type FileStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	GetPublicURL(objectName string) string
}

type MessageRecorder interface {
	RecordMessage(kind string)
}

// ChatService handles direct messages between a tenant and the landlord of
// the tenant's property.
type ChatService struct {
	store   *Store
	files   FileStore
	bus     ChatBus
	metrics MessageRecorder
}

func NewChatService(store *Store, files FileStore, bus ChatBus, rec MessageRecorder) *ChatService {
	if bus == nil {
		bus = NewLocalBus()
	}
	return &ChatService{store: store, files: files, bus: bus, metrics: rec}
}

type SendInput struct {
	SenderID   uint          `json:"sender_id" validate:"gt=0"`
	ReceiverID uint          `json:"receiver_id" validate:"gt=0"`
	Content    string        `json:"content" validate:"max=4000"`
	File       *UploadedFile `json:"file,omitempty"`
}

// Send stores a message with optional attachment and pushes it to the
// receiver's live subscribers.
func (s *ChatService) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	in.Content = SanitizeText(in.Content)
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.Content == "" && in.File == nil {
		return nil, apperr.NewValidationError("Message needs content or a file")
	}
	if in.SenderID == in.ReceiverID {
		return nil, apperr.NewValidationError("Cannot send a message to yourself")
	}
	if err := s.checkPair(ctx, in.SenderID, in.ReceiverID); err != nil {
		return nil, err
	}

	msg := &model.Message{SenderID: in.SenderID, ReceiverID: in.ReceiverID, Content: in.Content}
	kind := messageKindText
	if in.File != nil {
		if err := s.attach(ctx, msg, in.File); err != nil {
			return nil, err
		}
		kind = messageKindFile
	}

	if err := s.deliver(ctx, msg, kind); err != nil {
		return nil, err
	}
	return msg, nil
}

// Notify sends a system-generated message on behalf of senderID.
func (s *ChatService) Notify(ctx context.Context, senderID, receiverID uint, content string) error {
	return s.deliver(ctx, &model.Message{SenderID: senderID, ReceiverID: receiverID, Content: content}, messageKindNotice)
}

func (s *ChatService) deliver(ctx context.Context, msg *model.Message, kind string) error {
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return apperr.NewInternalError("Failed to save message", err)
	}
	if err := s.bus.Publish(ctx, *msg); err != nil {
		logger.Warn(ctx, "failed to publish message", "message_id", msg.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordMessage(kind)
	}
	logger.Debug(ctx, "message sent", "message_id", msg.ID, "receiver_id", msg.ReceiverID, "kind", kind)
	return nil
}

func (s *ChatService) attach(ctx context.Context, msg *model.Message, f *UploadedFile) error {
	if len(f.Data) == 0 {
		return apperr.NewValidationError("Attachment is empty", f.Filename)
	}
	if len(f.Data) > MaxChatFileBytes {
		return apperr.NewValidationError("Attachment exceeds the 10MB limit", f.Filename)
	}
	if s.files == nil {
		return apperr.NewInternalError("File storage is not configured", nil)
	}

	contentType := f.ResolvedContentType()
	objectName := ObjectName(fmt.Sprintf("chat/%d", msg.SenderID), f.Filename)
	if err := s.files.UploadFile(ctx, objectName, bytes.NewReader(f.Data), int64(len(f.Data)), contentType); err != nil {
		logger.Error(ctx, "failed to upload chat attachment", "object", objectName, "error", err)
		return apperr.NewInternalError("Failed to upload attachment", err)
	}

	msg.FileURL = s.files.GetPublicURL(objectName)
	msg.FileName = f.Filename
	msg.FileType = contentType
	msg.FileSize = int64(len(f.Data))
	return nil
}

// checkPair allows chat only between a tenant and the landlord of the
// tenant's property.
func (s *ChatService) checkPair(ctx context.Context, a, b uint) error {
	first, err := s.store.GetUser(ctx, a)
	if err != nil {
		return err
	}
	second, err := s.store.GetUser(ctx, b)
	if err != nil {
		return err
	}

	tenant, landlord := first, second
	if first.Role == model.RoleLandlord {
		tenant, landlord = second, first
	}
	if tenant.Role != model.RoleTenant || landlord.Role != model.RoleLandlord || tenant.PropertyID == nil {
		return apperr.NewForbiddenError("Chat is only available between a tenant and their landlord")
	}

	property, err := s.store.GetProperty(ctx, *tenant.PropertyID)
	if err != nil {
		return err
	}
	if property.LandlordID != landlord.ID {
		return apperr.NewForbiddenError("Chat is only available between a tenant and their landlord")
	}
	return nil
}

// Conversation returns messages exchanged with otherID newer than afterID.
func (s *ChatService) Conversation(ctx context.Context, userID, otherID, afterID uint, limit int) ([]model.Message, error) {
	if _, err := s.store.GetUser(ctx, otherID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.store.ListConversation(ctx, userID, otherID, afterID, limit)
}

func (s *ChatService) MarkRead(ctx context.Context, readerID, otherID uint) (int64, error) {
	return s.store.MarkConversationRead(ctx, readerID, otherID)
}

func (s *ChatService) Unread(ctx context.Context, userID uint) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}

// Subscribe streams messages addressed to userID until cancel is called.
func (s *ChatService) Subscribe(userID uint) (<-chan model.Message, func()) {
	return s.bus.Subscribe(userID)
}
