package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
)

// Store is the gorm-backed persistence layer for users, properties, tickets,
// chat messages and bills.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NewNotFoundError(what + " not found")
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (s *Store) GetProperty(ctx context.Context, id uint) (*model.Property, error) {
	var p model.Property
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "property")
	}
	return &p, nil
}

// TenantProperty resolves the property a tenant lives in. A user without a
// property is a client error, not a missing row.
func (s *Store) TenantProperty(ctx context.Context, userID uint) (*model.Property, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.PropertyID == nil {
		return nil, apperr.NewValidationError("No property is associated with this account")
	}
	p, err := s.GetProperty(ctx, *u.PropertyID)
	if err != nil {
		if apperr.GetAppError(err) != nil {
			return nil, apperr.NewValidationError("No property is associated with this account")
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) CreateRequest(ctx context.Context, req *model.MaintenanceRequest) error {
	if err := s.db.WithContext(ctx).Omit("Resources", "Documentation").Create(req).Error; err != nil {
		return fmt.Errorf("failed to create maintenance request: %w", err)
	}
	return nil
}

func (s *Store) CreateResources(ctx context.Context, resources []model.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&resources).Error; err != nil {
		return fmt.Errorf("failed to create resources: %w", err)
	}
	return nil
}

func (s *Store) CreateDocumentation(ctx context.Context, doc *model.Documentation) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create documentation: %w", err)
	}
	return nil
}

func (s *Store) withTicketDetails(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Resources", "ref_type = ?", model.ResourceRefMaintenance).
		Preload("Documentation")
}

func (s *Store) GetRequest(ctx context.Context, id uint) (*model.MaintenanceRequest, error) {
	var req model.MaintenanceRequest
	if err := s.withTicketDetails(ctx).First(&req, id).Error; err != nil {
		return nil, notFound(err, "maintenance request")
	}
	return &req, nil
}

// ListRequestsByTenant returns the tenant's tickets, newest first.
func (s *Store) ListRequestsByTenant(ctx context.Context, tenantID uint) ([]model.MaintenanceRequest, error) {
	var reqs []model.MaintenanceRequest
	err := s.withTicketDetails(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance requests: %w", err)
	}
	return reqs, nil
}

// ListRequestsByLandlord returns tickets for every property the landlord owns.
func (s *Store) ListRequestsByLandlord(ctx context.Context, landlordID uint, status model.RequestStatus) ([]model.MaintenanceRequest, error) {
	q := s.withTicketDetails(ctx).
		Where("property_id IN (?)", s.db.Model(&model.Property{}).Select("id").Where("landlord_id = ?", landlordID))
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var reqs []model.MaintenanceRequest
	if err := q.Order("urgency DESC, created_at DESC").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list landlord requests: %w", err)
	}
	return reqs, nil
}

// UpdateRequestStatus moves a ticket from one status to the next. The update
// is conditional on the current status so concurrent changes cannot skip a
// transition.
func (s *Store) UpdateRequestStatus(ctx context.Context, id uint, from, to model.RequestStatus) error {
	res := s.db.WithContext(ctx).Model(&model.MaintenanceRequest{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to update request status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NewConflictError("Request status changed concurrently")
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListConversation returns messages exchanged between two users with id
// greater than afterID, oldest first.
func (s *Store) ListConversation(ctx context.Context, userID, otherID, afterID uint, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND id > ?",
			userID, otherID, otherID, userID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	return msgs, nil
}

// MarkConversationRead flags every unread message from otherID to readerID.
func (s *Store) MarkConversationRead(ctx context.Context, readerID, otherID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", readerID, otherID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// ListBills returns a tenant's billing history, most recent due date first.
func (s *Store) ListBills(ctx context.Context, tenantID uint) ([]model.Bill, error) {
	var bills []model.Bill
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("due_date DESC").
		Find(&bills).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	return bills, nil
}
