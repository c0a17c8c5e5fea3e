package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
	"github.com/tenantly/portal/backend/pkg/metrics"
)

// Pipeline stage names, used as metric labels.
const (
	StageVision      = "vision"
	StageSummary     = "summary"
	StageUrgency     = "urgency"
	StageProcedure   = "procedure"
	StageTranslation = "translation"
	StageUpload      = "upload"
	StagePersist     = "persist"
	StageNotify      = "notify"
)

// UploadFailedPrefix marks an attachment that could not be stored.
const UploadFailedPrefix = "upload_failed:"

const summaryFallbackLength = 200

type ImageAnalyzer interface {
	AnalyzeImages(ctx context.Context, files []ImageFile) ([]model.ImageAnalysis, error)
}

type RequestAnalyzer interface {
	AnalyzeRequest(ctx context.Context, userText string, imageDescriptions []string) (*RequestAnalysis, error)
}

type ProcedureGenerator interface {
	GenerateProcedure(ctx context.Context, prompt string) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type ImageUploader interface {
	UploadImages(ctx context.Context, req UploadRequest) (*UploadResponse, error)
}

type Notifier interface {
	Notify(ctx context.Context, senderID, receiverID uint, content string) error
}

type StageRecorder interface {
	RecordStage(stage, outcome string)
	ObserveSubmission(d time.Duration)
}

// TicketStore is the persistence the maintenance workflow needs.
type TicketStore interface {
	TenantProperty(ctx context.Context, userID uint) (*model.Property, error)
	GetProperty(ctx context.Context, id uint) (*model.Property, error)
	CreateRequest(ctx context.Context, req *model.MaintenanceRequest) error
	CreateResources(ctx context.Context, resources []model.Resource) error
	CreateDocumentation(ctx context.Context, doc *model.Documentation) error
	GetRequest(ctx context.Context, id uint) (*model.MaintenanceRequest, error)
	ListRequestsByTenant(ctx context.Context, tenantID uint) ([]model.MaintenanceRequest, error)
	ListRequestsByLandlord(ctx context.Context, landlordID uint, status model.RequestStatus) ([]model.MaintenanceRequest, error)
	UpdateRequestStatus(ctx context.Context, id uint, from, to model.RequestStatus) error
}

// MaintenanceDeps wires the collaborators of MaintenanceService. Any remote
// collaborator may be nil, in which case its stage always degrades.
type MaintenanceDeps struct {
	Store          TicketStore
	Images         ImageAnalyzer
	Analyzer       RequestAnalyzer
	Procedures     ProcedureGenerator
	Translator     Translator
	Uploader       ImageUploader
	Notifier       Notifier
	Metrics        StageRecorder
	TargetLanguage Language
}

type MaintenanceService struct {
	store      TicketStore
	images     ImageAnalyzer
	analyzer   RequestAnalyzer
	procedures ProcedureGenerator
	translator Translator
	uploader   ImageUploader
	notifier   Notifier
	metrics    StageRecorder
	targetLang Language
}

func NewMaintenanceService(deps MaintenanceDeps) *MaintenanceService {
	s := &MaintenanceService{
		store:      deps.Store,
		images:     deps.Images,
		analyzer:   deps.Analyzer,
		procedures: deps.Procedures,
		translator: deps.Translator,
		uploader:   deps.Uploader,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		targetLang: deps.TargetLanguage,
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.targetLang == "" {
		s.targetLang = LangSpanish
	}
	return s
}

// SubmitInput is a tenant's maintenance report.
type SubmitInput struct {
	UserID      uint           `json:"user_id" validate:"gt=0"`
	Title       string         `json:"title" validate:"required,min=5,max=200"`
	Description string         `json:"description" validate:"required,min=10"`
	Files       []UploadedFile `json:"files" validate:"min=1,max=5,dive"`
	Translate   bool           `json:"translate"`
}

type SubmitResult struct {
	RequestID      uint          `json:"request_id"`
	Summary        string        `json:"summary"`
	Urgency        model.Urgency `json:"urgency"`
	UrgencyLabel   string        `json:"urgency_label"`
	UploadedURLs   []string      `json:"uploaded_urls"`
	AIAnalysisUsed bool          `json:"ai_analysis_used"`
	Translated     bool          `json:"translated"`
	Procedure      string        `json:"procedure"`
}

// Submit validates the report and runs it through analysis, procedure
// generation, optional translation, upload, persistence and notification.
// Only validation and the ticket write can fail the call.
func (s *MaintenanceService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	start := time.Now()

	in.Title = SanitizeText(in.Title)
	in.Description = SanitizeText(in.Description)
	if err := ValidateStruct(in); err != nil {
		return nil, err
	}
	for _, f := range in.Files {
		if err := ValidateImage(f); err != nil {
			return nil, err
		}
	}
	property, err := s.store.TenantProperty(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	encoded := make([]UploadImage, len(in.Files))
	filenames := make([]string, len(in.Files))
	for i, f := range in.Files {
		encoded[i] = UploadImage{Name: f.Filename, Content: base64.StdEncoding.EncodeToString(f.Data)}
		filenames[i] = f.Filename
	}

	analysis, visionOK := s.analyzeImages(ctx, in.Files)
	var descriptions, components []string
	for _, a := range analysis {
		if a.Success && strings.TrimSpace(a.Description) != "" {
			descriptions = append(descriptions, a.Description)
		}
		components = appendUnique(components, a.Analysis.Components...)
	}

	summary, urgency, summaryFallback, urgencyFallback := s.summarize(ctx, in, descriptions)

	steps, procedureFallback := s.generateSteps(ctx, in, summary, urgency, components)

	lang := LangEnglish
	translated := false
	if in.Translate && s.targetLang != LangEnglish {
		steps, translated = s.translateSteps(ctx, steps, procedureFallback)
		if translated {
			lang = s.targetLang
		}
	} else {
		s.metrics.RecordStage(StageTranslation, metrics.OutcomeSkipped)
	}
	procedure := RenderProcedure(in.Title, summary, urgency, steps, lang)

	urls, uploadFailed := s.upload(ctx, property.ID, encoded, filenames)

	req := &model.MaintenanceRequest{
		Title:      in.Title,
		RawText:    in.Description,
		Summary:    summary,
		Urgency:    urgency,
		Status:     model.StatusPending,
		TenantID:   in.UserID,
		PropertyID: property.ID,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		s.metrics.RecordStage(StagePersist, metrics.OutcomeFailed)
		logger.Error(ctx, "failed to persist maintenance request", "error", err)
		return nil, apperr.NewInternalError("Failed to save maintenance request", err)
	}
	s.metrics.RecordStage(StagePersist, metrics.OutcomeOK)

	s.persistResources(ctx, req.ID, urls, filenames)
	s.persistDocumentation(ctx, req.ID, model.DocumentationRecord{
		OriginalTitle:          in.Title,
		OriginalText:           in.Description,
		ProcessedText:          summary,
		Urgency:                urgency,
		UploadedURLs:           urls,
		OriginalFilenames:      filenames,
		Procedure:              procedure,
		Translated:             translated,
		ImageAnalysisAvailable: visionOK,
		ImageAnalysis:          analysis,
		SummaryFallback:        summaryFallback,
		UrgencyFallback:        urgencyFallback,
		ProcedureFallback:      procedureFallback,
		UploadFailed:           uploadFailed,
		GeneratedAt:            time.Now().UTC(),
	})

	s.notify(ctx, in.UserID, property.LandlordID, procedure)

	s.metrics.ObserveSubmission(time.Since(start))
	logger.Info(ctx, "maintenance request submitted",
		"request_id", req.ID,
		"urgency", urgency.String(),
		"ai_analysis", visionOK,
		"translated", translated,
		"upload_failed", uploadFailed,
	)

	return &SubmitResult{
		RequestID:      req.ID,
		Summary:        summary,
		Urgency:        urgency,
		UrgencyLabel:   urgency.String(),
		UploadedURLs:   urls,
		AIAnalysisUsed: visionOK,
		Translated:     translated,
		Procedure:      procedure,
	}, nil
}

func (s *MaintenanceService) analyzeImages(ctx context.Context, files []UploadedFile) ([]model.ImageAnalysis, bool) {
	if s.images == nil {
		s.metrics.RecordStage(StageVision, metrics.OutcomeFallback)
		return nil, false
	}

	images := make([]ImageFile, len(files))
	for i, f := range files {
		images[i] = ImageFile{Name: f.Filename, ContentType: f.ResolvedContentType(), Data: f.Data}
	}

	results, err := s.images.AnalyzeImages(ctx, images)
	if err != nil {
		logger.Warn(ctx, "image analysis unavailable, continuing without it", "error", err)
		s.metrics.RecordStage(StageVision, metrics.OutcomeFallback)
		return nil, false
	}

	for _, r := range results {
		if r.Success {
			s.metrics.RecordStage(StageVision, metrics.OutcomeOK)
			return results, true
		}
	}
	logger.Warn(ctx, "image analysis returned no usable result", "results", len(results))
	s.metrics.RecordStage(StageVision, metrics.OutcomeFallback)
	return results, false
}

func (s *MaintenanceService) summarize(ctx context.Context, in SubmitInput, descriptions []string) (summary string, urgency model.Urgency, summaryFallback, urgencyFallback bool) {
	var remote *RequestAnalysis
	if s.analyzer != nil {
		var err error
		remote, err = s.analyzer.AnalyzeRequest(ctx, in.Description, descriptions)
		if err != nil {
			logger.Warn(ctx, "request analysis failed, using local fallbacks", "error", err)
			remote = nil
		}
	}

	if remote != nil && strings.TrimSpace(remote.Summary) != "" {
		summary = strings.TrimSpace(remote.Summary)
		s.metrics.RecordStage(StageSummary, metrics.OutcomeOK)
	} else {
		summary = truncate(in.Description, summaryFallbackLength)
		summaryFallback = true
		s.metrics.RecordStage(StageSummary, metrics.OutcomeFallback)
	}

	if remote != nil && remote.UrgencyLevel.IsValid() {
		urgency = remote.UrgencyLevel
		s.metrics.RecordStage(StageUrgency, metrics.OutcomeOK)
	} else {
		urgency = ClassifyUrgency(append([]string{in.Title, in.Description}, descriptions...)...)
		urgencyFallback = true
		s.metrics.RecordStage(StageUrgency, metrics.OutcomeFallback)
	}
	return summary, urgency, summaryFallback, urgencyFallback
}

func (s *MaintenanceService) generateSteps(ctx context.Context, in SubmitInput, summary string, urgency model.Urgency, components []string) ([]string, bool) {
	var raw string
	if s.procedures != nil {
		var err error
		raw, err = s.procedures.GenerateProcedure(ctx, procedurePrompt(in.Title, in.Description, summary, urgency, components))
		if err != nil {
			logger.Warn(ctx, "procedure generation failed, using canned procedure", "error", err)
			raw = ""
		}
	}

	steps, fallback := ProcedureSteps(raw, LangEnglish)
	if fallback {
		s.metrics.RecordStage(StageProcedure, metrics.OutcomeFallback)
	} else {
		s.metrics.RecordStage(StageProcedure, metrics.OutcomeOK)
	}
	return steps, fallback
}

func procedurePrompt(title, description, summary string, urgency model.Urgency, components []string) string {
	var b strings.Builder
	b.WriteString("Write a maintenance procedure of 3 to 5 numbered steps for this rental property issue.\n")
	fmt.Fprintf(&b, "Issue: %s\n", title)
	fmt.Fprintf(&b, "Tenant description: %s\n", description)
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	fmt.Fprintf(&b, "Urgency: %s (%d/4)\n", urgency, urgency)
	if len(components) > 0 {
		fmt.Fprintf(&b, "Components involved: %s\n", strings.Join(components, ", "))
	}
	b.WriteString("Put each step on its own line, starting with \"Step\" followed by its number and a colon.\n")
	return b.String()
}

// translateSteps translates each step independently and concurrently. A step
// whose translation fails keeps its original text. The canned procedure is
// available in the target language and needs no remote call.
func (s *MaintenanceService) translateSteps(ctx context.Context, steps []string, canned bool) ([]string, bool) {
	if canned {
		s.metrics.RecordStage(StageTranslation, metrics.OutcomeOK)
		return FallbackSteps(s.targetLang), true
	}
	if s.translator == nil {
		s.metrics.RecordStage(StageTranslation, metrics.OutcomeFallback)
		return steps, false
	}

	out := make([]string, len(steps))
	ok := make([]bool, len(steps))

	var g errgroup.Group
	for i, step := range steps {
		g.Go(func() error {
			translated, err := s.translator.Translate(ctx, step)
			if err != nil {
				logger.Warn(ctx, "step translation failed, keeping original", "step", i+1, "error", err)
				out[i] = step
				return nil
			}
			out[i] = translated
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	applied := false
	for _, v := range ok {
		applied = applied || v
	}
	if applied {
		s.metrics.RecordStage(StageTranslation, metrics.OutcomeOK)
	} else {
		s.metrics.RecordStage(StageTranslation, metrics.OutcomeFallback)
	}
	return out, applied
}

// upload stores the batch under the property's folder. On failure every
// attachment gets a marker instead of a URL.
func (s *MaintenanceService) upload(ctx context.Context, propertyID uint, images []UploadImage, filenames []string) ([]string, bool) {
	var err error
	if s.uploader == nil {
		err = fmt.Errorf("no uploader configured")
	} else {
		var resp *UploadResponse
		resp, err = s.uploader.UploadImages(ctx, UploadRequest{
			Images:     images,
			FolderName: fmt.Sprintf("properties/%d", propertyID),
		})
		switch {
		case err != nil:
		case resp == nil || !resp.Success:
			err = fmt.Errorf("upload reported failure")
		case len(resp.URLs) != len(images):
			err = fmt.Errorf("upload returned %d urls for %d files", len(resp.URLs), len(images))
		}
		if err == nil {
			s.metrics.RecordStage(StageUpload, metrics.OutcomeOK)
			return resp.URLs, false
		}
	}

	logger.Warn(ctx, "attachment upload failed", "error", err, "files", len(images))
	s.metrics.RecordStage(StageUpload, metrics.OutcomeFailed)
	markers := make([]string, len(filenames))
	for i, name := range filenames {
		markers[i] = UploadFailedPrefix + name
	}
	return markers, true
}

func (s *MaintenanceService) persistResources(ctx context.Context, requestID uint, urls, filenames []string) {
	var resources []model.Resource
	for i, url := range urls {
		if strings.HasPrefix(url, UploadFailedPrefix) {
			continue
		}
		resources = append(resources, model.Resource{
			RefID:    requestID,
			RefType:  model.ResourceRefMaintenance,
			URL:      url,
			Filename: filenames[i],
		})
	}
	if err := s.store.CreateResources(ctx, resources); err != nil {
		logger.Error(ctx, "failed to save attachment references", "request_id", requestID, "error", err)
	}
}

func (s *MaintenanceService) persistDocumentation(ctx context.Context, requestID uint, record model.DocumentationRecord) {
	doc := &model.Documentation{
		RequestID: requestID,
		Record:    datatypes.NewJSONType(record),
	}
	if err := s.store.CreateDocumentation(ctx, doc); err != nil {
		logger.Error(ctx, "failed to save request documentation", "request_id", requestID, "error", err)
	}
}

func (s *MaintenanceService) notify(ctx context.Context, senderID, receiverID uint, content string) {
	if s.notifier == nil {
		s.metrics.RecordStage(StageNotify, metrics.OutcomeSkipped)
		return
	}
	if err := s.notifier.Notify(ctx, senderID, receiverID, content); err != nil {
		logger.Warn(ctx, "landlord notification failed", "landlord_id", receiverID, "error", err)
		s.metrics.RecordStage(StageNotify, metrics.OutcomeFailed)
		return
	}
	s.metrics.RecordStage(StageNotify, metrics.OutcomeOK)
}

// ListForTenant returns the tenant's tickets with resources and documentation.
func (s *MaintenanceService) ListForTenant(ctx context.Context, tenantID uint) ([]model.MaintenanceRequest, error) {
	return s.store.ListRequestsByTenant(ctx, tenantID)
}

// ListForLandlord returns tickets of the landlord's properties, optionally
// filtered by status.
func (s *MaintenanceService) ListForLandlord(ctx context.Context, landlordID uint, status string) ([]model.MaintenanceRequest, error) {
	st := model.RequestStatus(status)
	if status != "" && !st.IsValid() {
		return nil, apperr.NewValidationError("Unknown status", status)
	}
	return s.store.ListRequestsByLandlord(ctx, landlordID, st)
}

// Get returns a ticket visible to the caller: its tenant or the landlord of
// its property.
func (s *MaintenanceService) Get(ctx context.Context, userID uint, role model.Role, id uint) (*model.MaintenanceRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, role, req); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateStatus moves a ticket along its lifecycle on behalf of the property's
// landlord and tells the tenant about it.
func (s *MaintenanceService) UpdateStatus(ctx context.Context, landlordID uint, id uint, next model.RequestStatus) (*model.MaintenanceRequest, error) {
	if !next.IsValid() {
		return nil, apperr.NewValidationError("Unknown status", string(next))
	}

	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, landlordID, model.RoleLandlord, req); err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, apperr.NewValidationError(
			"Invalid status transition",
			fmt.Sprintf("%s -> %s", req.Status, next),
		)
	}

	if err := s.store.UpdateRequestStatus(ctx, id, req.Status, next); err != nil {
		return nil, err
	}
	previous := req.Status
	req.Status = next

	logger.Info(ctx, "maintenance request status changed", "request_id", id, "from", previous, "to", next)
	if s.notifier != nil {
		msg := fmt.Sprintf("Your maintenance request %q is now %s.", req.Title, next)
		if err := s.notifier.Notify(ctx, landlordID, req.TenantID, msg); err != nil {
			logger.Warn(ctx, "tenant status notification failed", "request_id", id, "error", err)
		}
	}
	return req, nil
}

func (s *MaintenanceService) authorize(ctx context.Context, userID uint, role model.Role, req *model.MaintenanceRequest) error {
	switch role {
	case model.RoleTenant:
		if req.TenantID == userID {
			return nil
		}
	case model.RoleLandlord:
		p, err := s.store.GetProperty(ctx, req.PropertyID)
		if err != nil {
			return err
		}
		if p.LandlordID == userID {
			return nil
		}
	}
	return apperr.NewForbiddenError("You do not have access to this maintenance request")
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen := false
		for _, d := range dst {
			if d == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, string)      {}
func (nopRecorder) ObserveSubmission(time.Duration) {}
