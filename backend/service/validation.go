package service

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/tenantly/portal/backend/pkg/apperr"
)

const (
	MaxAttachments     = 5
	MaxAttachmentBytes = 10 << 20
)

var (
	validate   = newValidator()
	textPolicy = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// UploadedFile is an attachment received from a client.
type UploadedFile struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ResolvedContentType returns the declared type, sniffing the content when
// the client sent none or a generic one.
func (f UploadedFile) ResolvedContentType() string {
	ct := strings.TrimSpace(strings.ToLower(f.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		return http.DetectContentType(f.Data)
	}
	return ct
}

// ValidateStruct runs the struct tags of s and folds the failures into one
// validation error.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperr.NewValidationError("Validation failed", err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fieldErrorMessage(fe))
	}
	return apperr.NewValidationError("Validation failed", strings.Join(messages, "; "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters long", field, param)
		}
		return fmt.Sprintf("%s must contain at least %s item(s)", field, param)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters long", field, param)
		}
		return fmt.Sprintf("%s must contain at most %s item(s)", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}

// ValidateImage checks that f is a non-empty image within the size limit.
func ValidateImage(f UploadedFile) error {
	if len(f.Data) == 0 {
		return apperr.NewValidationError("Attachment is empty", f.Filename)
	}
	if len(f.Data) > MaxAttachmentBytes {
		return apperr.NewValidationError("Attachment exceeds the 10MB limit", f.Filename)
	}
	if !strings.HasPrefix(f.ResolvedContentType(), "image/") {
		return apperr.NewValidationError("Only image attachments are accepted", f.Filename)
	}
	return nil
}

// SanitizeText strips markup from user supplied text.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}
