package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/database"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
)

type fixture struct {
	db        *gorm.DB
	store     *Store
	landlord  model.User
	other     model.User // landlord of another property
	tenant    model.User
	homeless  model.User // tenant without a property
	property  model.Property
	elsewhere model.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{db: db, store: NewStore(db)}
	f.landlord = model.User{Email: "owner@example.com", Name: "Olga", Role: model.RoleLandlord, PasswordHash: "x"}
	f.other = model.User{Email: "other@example.com", Name: "Oscar", Role: model.RoleLandlord, PasswordHash: "x"}
	require.NoError(t, db.Create(&f.landlord).Error)
	require.NoError(t, db.Create(&f.other).Error)

	f.property = model.Property{Name: "Maple Court", Address: "12 Maple St", LandlordID: f.landlord.ID}
	f.elsewhere = model.Property{Name: "Oak House", Address: "1 Oak Rd", LandlordID: f.other.ID}
	require.NoError(t, db.Create(&f.property).Error)
	require.NoError(t, db.Create(&f.elsewhere).Error)

	f.tenant = model.User{Email: "tenant@example.com", Name: "Tina", Role: model.RoleTenant, PasswordHash: "x", PropertyID: &f.property.ID}
	f.homeless = model.User{Email: "nohome@example.com", Name: "Nora", Role: model.RoleTenant, PasswordHash: "x"}
	require.NoError(t, db.Create(&f.tenant).Error)
	require.NoError(t, db.Create(&f.homeless).Error)
	return f
}

func (f *fixture) createRequest(t *testing.T, propertyID uint, urgency model.Urgency, status model.RequestStatus) *model.MaintenanceRequest {
	t.Helper()
	req := &model.MaintenanceRequest{
		Title:      "Broken heater",
		RawText:    "The heater does not turn on",
		Summary:    "Heater failure",
		Urgency:    urgency,
		Status:     status,
		TenantID:   f.tenant.ID,
		PropertyID: propertyID,
	}
	require.NoError(t, f.store.CreateRequest(context.Background(), req))
	return req
}

func TestStoreTenantProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.store.TenantProperty(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, f.property.ID, p.ID)
	assert.Equal(t, f.landlord.ID, p.LandlordID)

	_, err = f.store.TenantProperty(ctx, f.homeless.ID)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.store.TenantProperty(ctx, 9999)
	appErr := apperr.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperr.ErrorTypeNotFound, appErr.Type)
}

func TestStoreFindUserByEmail(t *testing.T) {
	f := newFixture(t)

	u, err := f.store.FindUserByEmail(context.Background(), "tenant@example.com")
	require.NoError(t, err)
	assert.Equal(t, f.tenant.ID, u.ID)

	_, err = f.store.FindUserByEmail(context.Background(), "ghost@example.com")
	assert.Error(t, err)
}

func TestStoreRequestWithDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.createRequest(t, f.property.ID, model.UrgencyHigh, model.StatusPending)
	require.NoError(t, f.store.CreateResources(ctx, []model.Resource{
		{RefID: req.ID, RefType: model.ResourceRefMaintenance, URL: "http://files/a.jpg", Filename: "a.jpg"},
	}))
	require.NoError(t, f.store.CreateResources(ctx, nil))
	require.NoError(t, f.store.CreateDocumentation(ctx, &model.Documentation{
		RequestID: req.ID,
		Record: datatypes.NewJSONType(model.DocumentationRecord{
			OriginalText: req.RawText,
			Urgency:      model.UrgencyHigh,
			UploadedURLs: []string{"http://files/a.jpg"},
			GeneratedAt:  time.Now(),
		}),
	}))

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, "a.jpg", got.Resources[0].Filename)
	require.NotNil(t, got.Documentation)
	assert.Equal(t, []string{"http://files/a.jpg"}, got.Documentation.Record.Data().UploadedURLs)

	_, err = f.store.GetRequest(ctx, 4242)
	assert.Equal(t, apperr.ErrorTypeNotFound, apperr.GetAppError(err).Type)
}

func TestStoreDocumentationIsUniquePerRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, f.property.ID, model.UrgencyMedium, model.StatusPending)

	doc := func() *model.Documentation {
		return &model.Documentation{RequestID: req.ID, Record: datatypes.NewJSONType(model.DocumentationRecord{})}
	}
	require.NoError(t, f.store.CreateDocumentation(ctx, doc()))
	assert.Error(t, f.store.CreateDocumentation(ctx, doc()))
}

func TestStoreDeleteRequestCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, f.property.ID, model.UrgencyMedium, model.StatusPending)
	require.NoError(t, f.store.CreateResources(ctx, []model.Resource{
		{RefID: req.ID, RefType: model.ResourceRefMaintenance, URL: "u", Filename: "f"},
	}))

	require.NoError(t, f.db.Delete(&model.MaintenanceRequest{}, req.ID).Error)

	var n int64
	f.db.Model(&model.Resource{}).Where("ref_id = ?", req.ID).Count(&n)
	assert.Zero(t, n)
}

func TestStoreListRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := f.createRequest(t, f.property.ID, model.UrgencyLow, model.StatusPending)
	critical := f.createRequest(t, f.property.ID, model.UrgencyCritical, model.StatusScheduled)
	foreign := f.createRequest(t, f.elsewhere.ID, model.UrgencyHigh, model.StatusPending)

	mine, err := f.store.ListRequestsByTenant(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, foreign.ID, mine[0].ID, "newest first")

	owned, err := f.store.ListRequestsByLandlord(ctx, f.landlord.ID, "")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, critical.ID, owned[0].ID, "most urgent first")
	assert.Equal(t, low.ID, owned[1].ID)

	pending, err := f.store.ListRequestsByLandlord(ctx, f.landlord.ID, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, low.ID, pending[0].ID)
}

func TestStoreUpdateRequestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, f.property.ID, model.UrgencyMedium, model.StatusPending)

	require.NoError(t, f.store.UpdateRequestStatus(ctx, req.ID, model.StatusPending, model.StatusScheduled))

	err := f.store.UpdateRequestStatus(ctx, req.ID, model.StatusPending, model.StatusClosed)
	assert.Equal(t, apperr.ErrorTypeConflict, apperr.GetAppError(err).Type)

	got, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, got.Status)
}

func TestStoreMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	send := func(from, to uint, content string) model.Message {
		m := model.Message{SenderID: from, ReceiverID: to, Content: content}
		require.NoError(t, f.store.CreateMessage(ctx, &m))
		return m
	}
	first := send(f.tenant.ID, f.landlord.ID, "hello")
	send(f.landlord.ID, f.tenant.ID, "hi")
	send(f.tenant.ID, f.landlord.ID, "sink is leaking")
	send(f.homeless.ID, f.landlord.ID, "unrelated")

	conv, err := f.store.ListConversation(ctx, f.landlord.ID, f.tenant.ID, 0, 50)
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, "hello", conv[0].Content)

	after, err := f.store.ListConversation(ctx, f.tenant.ID, f.landlord.ID, first.ID, 50)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	unread, err := f.store.CountUnread(ctx, f.landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	marked, err := f.store.MarkConversationRead(ctx, f.landlord.ID, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	unread, err = f.store.CountUnread(ctx, f.landlord.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestStoreListBills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	for _, b := range []model.Bill{
		{TenantID: f.tenant.ID, PropertyID: f.property.ID, Description: "March rent", AmountCents: 120000, DueDate: now.AddDate(0, -1, 0)},
		{TenantID: f.tenant.ID, PropertyID: f.property.ID, Description: "April rent", AmountCents: 120000, DueDate: now},
		{TenantID: f.homeless.ID, PropertyID: f.property.ID, Description: "other", AmountCents: 1, DueDate: now},
	} {
		require.NoError(t, f.db.Create(&b).Error)
	}

	bills, err := f.store.ListBills(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, "April rent", bills[0].Description)
	assert.Equal(t, "USD", bills[0].Currency)
}
