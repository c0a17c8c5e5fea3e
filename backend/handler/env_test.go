package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/database"
	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/metrics"
	"github.com/tenantly/portal/backend/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testPassword = "correct-horse"

type stubUploader struct{}

func (stubUploader) UploadImages(_ context.Context, req service.UploadRequest) (*service.UploadResponse, error) {
	urls := make([]string, len(req.Images))
	for i, img := range req.Images {
		urls[i] = fmt.Sprintf("http://files.test/%s/%s", req.FolderName, img.Name)
	}
	return &service.UploadResponse{Success: true, URLs: urls}, nil
}

type stubFiles struct{}

func (stubFiles) UploadFile(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (stubFiles) GetPublicURL(objectName string) string {
	return "http://files.test/" + objectName
}

// testEnv is a full router over an in-memory database with seeded accounts.
// Remote AI services are absent so every submission takes the fallback paths.
type testEnv struct {
	t        *testing.T
	store    *service.Store
	chat     *service.ChatService
	metrics  *metrics.Metrics
	router   *gin.Engine
	auth     *config.AuthConfig
	tenant   *model.User
	landlord *model.User
	other    *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })

	seed := &config.SeedConfig{
		Properties: []config.SeedProperty{
			{Name: "Maple Court", Address: "12 Maple St", Landlord: "owner@example.com"},
			{Name: "Oak House", Address: "1 Oak Rd", Landlord: "other@example.com"},
		},
		Users: []config.SeedUser{
			{Email: "owner@example.com", Name: "Olga", Password: testPassword, Role: "landlord"},
			{Email: "other@example.com", Name: "Oscar", Password: testPassword, Role: "landlord"},
			{Email: "tenant@example.com", Name: "Tina", Password: testPassword, Role: "tenant", Property: "Maple Court"},
		},
	}
	if err := database.Seed(context.Background(), db, seed); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	store := service.NewStore(db)
	m := metrics.New("handler_test")
	chat := service.NewChatService(store, stubFiles{}, service.NewLocalBus(), m)
	maintenance := service.NewMaintenanceService(service.MaintenanceDeps{
		Store:    store,
		Uploader: stubUploader{},
		Notifier: chat,
		Metrics:  m,
	})

	env := &testEnv{
		t:       t,
		store:   store,
		chat:    chat,
		metrics: m,
		auth:    &config.AuthConfig{JWTSecret: "handler-test-secret", TokenExpireHours: 1},
	}
	env.tenant = env.user("tenant@example.com")
	env.landlord = env.user("owner@example.com")
	env.other = env.user("other@example.com")

	env.router = NewRouter(Handlers{
		Auth:        NewAuthHandler(store, env.auth),
		Maintenance: NewMaintenanceHandler(maintenance, 60),
		Messages:    NewMessageHandler(chat, 50*time.Millisecond),
		Billing:     NewBillingHandler(store),
		Health:      NewHealthHandler(map[string]Pinger{"database": sqlDB}),
		Metrics:     m,
	}, RouterConfig{Auth: env.auth, RateLimit: 1000, SubmitRateLimit: 100})

	return env
}

func (e *testEnv) user(email string) *model.User {
	e.t.Helper()
	u, err := e.store.FindUserByEmail(context.Background(), email)
	if err != nil {
		e.t.Fatalf("Seeded user %s missing: %v", email, err)
	}
	return u
}

func (e *testEnv) token(u *model.User) string {
	e.t.Helper()
	token, _, err := middleware.GenerateToken(u.ID, u.Role, e.auth)
	if err != nil {
		e.t.Fatalf("Failed to generate token: %v", err)
	}
	return token
}

// do sends the request as u (anonymous when nil) and returns the recorder.
func (e *testEnv) do(u *model.User, req *http.Request) *httptest.ResponseRecorder {
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(u))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) sendJSON(u *model.User, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return e.do(u, req)
}

type formFile struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(f.data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return v
}

var jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, make([]byte, 128)...)
