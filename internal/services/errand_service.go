package services

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/providers"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"
	"github.com/osvaldoandrade/felanmalan/pkg/geo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	attachmentField = "errandAttachment"
	listPageSize    = 200
)

// ErrandService relays fault reports to the case-management API.
type ErrandService interface {
	// Create runs validate, transform, classify, create and upload. An upload
	// failure deletes the created errand before the error is returned.
	Create(ctx context.Context, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, error)
	ListActive(ctx context.Context) ([]domain.ErrandMarker, error)
	GetAttachment(ctx context.Context, errandID, attachmentID string) (*domain.Attachment, error)
}

type errandService struct {
	api        providers.APIClient
	classifier ClassifyService
	basePath   string
	logger     *slog.Logger
}

// NewErrandService binds the orchestrator to the errand collection at
// basePath (municipality/namespace/errands) on api.
func NewErrandService(api providers.APIClient, classifier ClassifyService, basePath string, logger *slog.Logger) ErrandService {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifyService(nil, "", "", logger)
	}
	return &errandService{
		api:        api,
		classifier: classifier,
		basePath:   strings.Trim(basePath, "/"),
		logger:     logger,
	}
}

func (s *errandService) Create(ctx context.Context, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, error) {
	// A submission runs to completion or upstream timeout even when the
	// caller goes away; request id and trace values stay on ctx.
	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("felanmalan/errands").Start(ctx, "felanmalan.errand.create",
		trace.WithAttributes(attribute.Int("felanmalan.errand.images", len(images))),
	)
	defer span.End()

	log := s.logger.With("request_id", domain.RequestID(ctx), "images", len(images))

	created, outcome, err := s.create(ctx, log, span, draft, images)
	metrics.ErrandSubmissionsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return created, nil
}

func (s *errandService) create(ctx context.Context, log *slog.Logger, span trace.Span, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, string, error) {
	if err := draft.Validate(); err != nil {
		log.Info("errand rejected", "state", "validating", "err", err)
		return nil, "invalid", err
	}

	projected := hasProjectedCoordinates(&draft)
	if TransformCoordinates(&draft) {
		log.Info("errand coordinates converted", "state", "transforming")
	} else if projected {
		log.Warn("errand coordinates left as submitted", "state", "transforming")
	}

	var first *domain.Upload
	if len(images) > 0 {
		first = &images[0]
	}
	category := s.classifier.Classify(ctx, first, draft.Description)
	draft.Classification = &domain.Classification{Category: domain.ErrandCategory, Type: string(category)}
	span.SetAttributes(attribute.String("felanmalan.errand.classification", string(category)))

	log = log.With("classification", string(category))
	log.Info("creating errand", "state", "creating")

	resp, err := s.api.Post(ctx, providers.Request{
		Path: s.basePath,
		Body: domain.NewErrand{
			ErrandDraft:    draft,
			ReporterUserID: domain.ReporterUserID,
			Channel:        domain.ChannelExternal,
			Status:         domain.StatusNew,
		},
	})
	if err != nil {
		log.Error("errand creation failed", "state", "creating", "upstream_status", domain.StatusOf(err), "err", err)
		return nil, "create_failed", err
	}
	created, err := providers.DecodeJSON[domain.CreatedErrand](resp)
	if err != nil || created.ID == "" {
		log.Error("errand creation returned no id", "state", "creating", "upstream_status", resp.Status)
		return nil, "create_failed", domain.NewHTTPError(http.StatusBadGateway, domain.MsgCreateFailed)
	}
	metrics.ErrandsCreatedTotal.WithLabelValues(string(category)).Inc()
	span.SetAttributes(attribute.String("felanmalan.errand.id", created.ID))

	log = log.With("errand_id", created.ID)
	log.Info("errand created", "state", "uploading_attachments", "errand_number", created.ErrandNumber)

	if err := s.uploadAttachments(ctx, log, created.ID, images); err != nil {
		if !s.rollback(ctx, log, created.ID) {
			return nil, "rollback_failed", domain.NewHTTPError(http.StatusBadGateway, domain.MsgUploadRollbackFailed)
		}
		return nil, "upload_failed", domain.NewHTTPError(http.StatusBadGateway, domain.MsgUploadFailed)
	}

	log.Info("errand submitted", "state", "done")
	return &created, "created", nil
}

// uploadAttachments posts images one at a time in input order and stops at
// the first failure.
func (s *errandService) uploadAttachments(ctx context.Context, log *slog.Logger, errandID string, images []domain.Upload) error {
	for i := range images {
		img := images[i]
		_, err := s.api.Post(ctx, providers.Request{
			Path:      s.basePath + "/" + errandID + "/attachments",
			File:      &img,
			FileField: attachmentField,
		})
		if err != nil {
			metrics.AttachmentUploadsTotal.WithLabelValues("failed").Inc()
			log.Error("attachment upload failed",
				"state", "uploading_attachments", "index", i, "uploaded", i,
				"file", img.FileName, "upstream_status", domain.StatusOf(err), "err", err)
			return err
		}
		metrics.AttachmentUploadsTotal.WithLabelValues("uploaded").Inc()
	}
	return nil
}

// rollback deletes the errand. An errand that is already gone counts as
// rolled back.
func (s *errandService) rollback(ctx context.Context, log *slog.Logger, errandID string) bool {
	ctx, span := otel.Tracer("felanmalan/errands").Start(ctx, "felanmalan.errand.rollback",
		trace.WithAttributes(attribute.String("felanmalan.errand.id", errandID)),
	)
	defer span.End()

	path := s.basePath + "/" + errandID
	_, err := s.api.Delete(ctx, providers.Request{Path: path})
	switch {
	case err == nil:
		metrics.RollbacksTotal.WithLabelValues("deleted").Inc()
		log.Warn("errand rolled back after attachment upload failure", "state", "rolling_back")
		return true
	case domain.IsNotFound(err):
		metrics.RollbacksTotal.WithLabelValues("already_gone").Inc()
		log.Warn("errand already gone during rollback", "state", "rolling_back")
		return true
	default:
		metrics.RollbacksTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "rollback failed")
		log.Error("errand rollback failed, orphaned errand may remain upstream",
			"state", "rolling_back", "upstream_path", path, "upstream_status", domain.StatusOf(err), "err", err)
		return false
	}
}

// TransformCoordinates rewrites a projected "x,y" coordinates parameter into
// geographic "lat,lng" when the draft tags it with the projected CRS. The CRS
// tag is removed whenever it accompanied a coordinates parameter, converted or
// not. Unparseable values are left untouched. Reports whether a conversion
// happened.
func TransformCoordinates(draft *domain.ErrandDraft) bool {
	if !hasProjectedCoordinates(draft) {
		return false
	}
	coord := draft.Param(domain.ParamCoordinates)

	converted := false
	if len(coord.Values) > 0 {
		if x, y, ok := parsePair(coord.Values[0]); ok {
			lat, lng := geo.ToGeographic(x, y)
			if !math.IsNaN(lat) && !math.IsNaN(lng) {
				coord.Values = []string{formatFloat(lat) + "," + formatFloat(lng)}
				converted = true
			}
		}
	}
	draft.RemoveParam(domain.ParamCoordinatesCRS)
	return converted
}

func hasProjectedCoordinates(draft *domain.ErrandDraft) bool {
	crs := draft.Param(domain.ParamCoordinatesCRS)
	return draft.Param(domain.ParamCoordinates) != nil && crs != nil && len(crs.Values) > 0 && crs.Values[0] == domain.CRSProjected
}

func (s *errandService) ListActive(ctx context.Context) ([]domain.ErrandMarker, error) {
	ctx, span := otel.Tracer("felanmalan/errands").Start(ctx, "felanmalan.errand.list")
	defer span.End()

	resp, err := s.api.Get(ctx, providers.Request{
		Path: s.basePath,
		Params: map[string]string{
			"filter": activeFilter(),
			"size":   strconv.Itoa(listPageSize),
		},
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("listing errands failed", "request_id", domain.RequestID(ctx), "upstream_status", domain.StatusOf(err))
		return nil, err
	}
	page, err := providers.DecodeJSON[domain.ErrandPage](resp)
	if err != nil {
		s.logger.Error("errand listing could not be decoded", "request_id", domain.RequestID(ctx), "err", err)
		return nil, domain.UpstreamError(0)
	}

	markers := make([]domain.ErrandMarker, 0, len(page.Content))
	for _, e := range page.Content {
		if m, ok := toMarker(e); ok {
			markers = append(markers, m)
		}
	}
	span.SetAttributes(attribute.Int("felanmalan.errand.markers", len(markers)))
	return markers, nil
}

func toMarker(e domain.Errand) (domain.ErrandMarker, bool) {
	if e.Classification == nil || e.Classification.Category != domain.ErrandCategory || !isActive(e.Status) {
		return domain.ErrandMarker{}, false
	}
	var coord string
	for _, p := range e.Parameters {
		if p.Key == domain.ParamCoordinates && len(p.Values) > 0 {
			coord = p.Values[0]
			break
		}
	}
	lat, lng, ok := parsePair(coord)
	if !ok {
		return domain.ErrandMarker{}, false
	}
	x, y := geo.ToProjected(lat, lng)
	if math.IsNaN(x) || math.IsNaN(y) {
		return domain.ErrandMarker{}, false
	}
	return domain.ErrandMarker{
		ID:                 e.ID,
		ErrandNumber:       e.ErrandNumber,
		Title:              e.Title,
		Description:        e.Description,
		ClassificationType: e.Classification.Type,
		Status:             e.Status,
		Created:            e.Created,
		Coordinates:        domain.Point{X: x, Y: y},
	}, true
}

func (s *errandService) GetAttachment(ctx context.Context, errandID, attachmentID string) (*domain.Attachment, error) {
	resp, err := s.api.Get(ctx, providers.Request{
		Path: s.basePath + "/" + errandID + "/attachments/" + attachmentID,
	})
	if err != nil {
		return nil, err
	}
	ct := resp.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &domain.Attachment{ContentType: ct, Data: resp.Data}, nil
}

func activeFilter() string {
	parts := make([]string, 0, len(domain.ActiveStatuses))
	for _, st := range domain.ActiveStatuses {
		parts = append(parts, "status:'"+string(st)+"'")
	}
	return strings.Join(parts, " or ")
}

func isActive(st domain.ErrandStatus) bool {
	for _, a := range domain.ActiveStatuses {
		if a == st {
			return true
		}
	}
	return false
}

func parsePair(v string) (float64, float64, bool) {
	a, b, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, 0, false
	}
	return x, y, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
