package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/service"
)

type MaintenanceHandler struct {
	svc            *service.MaintenanceService
	maxUploadBytes int64
}

func NewMaintenanceHandler(svc *service.MaintenanceService, maxUploadMB int) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc, maxUploadBytes: int64(maxUploadMB) << 20}
}

// Submit handles a tenant's multipart maintenance report
func (h *MaintenanceHandler) Submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperr.Respond(c, apperr.NewValidationError(fmt.Sprintf("Upload exceeds %d MB", h.maxUploadBytes>>20)))
			return
		}
		apperr.Respond(c, apperr.NewValidationError("Expected multipart form data", err.Error()))
		return
	}

	var headers []*multipart.FileHeader
	for _, key := range []string{"images", "images[]"} {
		headers = append(headers, form.File[key]...)
	}
	if len(headers) > service.MaxAttachments {
		apperr.Respond(c, apperr.NewValidationError(fmt.Sprintf("At most %d images are allowed", service.MaxAttachments)))
		return
	}

	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readFormFile(fh, service.MaxAttachmentBytes)
		if err != nil {
			apperr.Respond(c, apperr.NewValidationError("Failed to read attachment", fh.Filename))
			return
		}
		files = append(files, f)
	}

	translate, _ := strconv.ParseBool(c.PostForm("translate"))

	result, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		UserID:      middleware.GetUserID(c),
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Files:       files,
		Translate:   translate,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// readFormFile reads at most limit+1 bytes so oversized files fail validation
// without being buffered whole.
func readFormFile(fh *multipart.FileHeader, limit int64) (service.UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadedFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return service.UploadedFile{}, err
	}
	return service.UploadedFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// List returns the caller's tickets: their own for tenants, those of owned
// properties for landlords
func (h *MaintenanceHandler) List(c *gin.Context) {
	var (
		requests []model.MaintenanceRequest
		err      error
	)
	if middleware.GetRole(c) == model.RoleLandlord {
		requests, err = h.svc.ListForLandlord(c.Request.Context(), middleware.GetUserID(c), c.Query("status"))
	} else {
		requests, err = h.svc.ListForTenant(c.Request.Context(), middleware.GetUserID(c))
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// ListForLandlord returns tickets of the landlord's properties, optionally
// filtered with ?status=
func (h *MaintenanceHandler) ListForLandlord(c *gin.Context) {
	requests, err := h.svc.ListForLandlord(c.Request.Context(), middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// Get returns a single ticket with its resources and documentation
func (h *MaintenanceHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	req, err := h.svc.Get(c.Request.Context(), middleware.GetUserID(c), middleware.GetRole(c), id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

type UpdateStatusRequest struct {
	Status model.RequestStatus `json:"status" binding:"required"`
}

// UpdateStatus moves a ticket to its next lifecycle state
func (h *MaintenanceHandler) UpdateStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var body UpdateStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Respond(c, apperr.NewValidationError("Invalid request", err.Error()))
		return
	}

	req, err := h.svc.UpdateStatus(c.Request.Context(), middleware.GetUserID(c), id, body.Status)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     req.ID,
		"status": req.Status,
	})
}

func pathID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.NewValidationError("Invalid "+name, c.Param(name))
	}
	return uint(id), nil
}
