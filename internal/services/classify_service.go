package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/osvaldoandrade/felanmalan/internal/imaging"
	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/providers"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrClassifierUnavailable is returned by the internal attempt when no answer
// could be obtained. It never leaves this package.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// ClassifyService assigns a fault category to a report. It never fails:
// anything that goes wrong yields domain.DefaultCategory.
type ClassifyService interface {
	Classify(ctx context.Context, image *domain.Upload, description string) domain.Category
}

type classifyService struct {
	assistant   providers.APIClient
	assistantID string
	apiKey      string
	downscale   func([]byte) ([]byte, error)
	logger      *slog.Logger
}

type assistantFile struct {
	ID string `json:"id"`
}

type assistantQuestion struct {
	Question string          `json:"question"`
	Files    []assistantFile `json:"files"`
	Stream   bool            `json:"stream"`
}

type assistantAnswer struct {
	Answer string `json:"answer"`
}

// NewClassifyService returns a classifier backed by the assistant API. A nil
// client or an empty assistant id / key disables classification.
func NewClassifyService(assistant providers.APIClient, assistantID, apiKey string, logger *slog.Logger) ClassifyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &classifyService{
		assistant:   assistant,
		assistantID: strings.TrimSpace(assistantID),
		apiKey:      strings.TrimSpace(apiKey),
		downscale:   imaging.Downscale,
		logger:      logger,
	}
}

func (s *classifyService) Classify(ctx context.Context, image *domain.Upload, description string) domain.Category {
	ctx, span := otel.Tracer("felanmalan/classify").Start(ctx, "felanmalan.classify",
		trace.WithAttributes(
			attribute.Bool("felanmalan.classify.has_image", image != nil),
			attribute.Bool("felanmalan.classify.has_description", strings.TrimSpace(description) != ""),
		),
	)
	defer span.End()

	cat, err := s.attempt(ctx, image, description)
	source := "assistant"
	if err != nil {
		source = "default"
		cat = domain.DefaultCategory
		s.logger.Info("classification fell back to default", "reason", err.Error())
	} else {
		s.logger.Info("classification result", "category", string(cat))
	}
	span.SetAttributes(attribute.String("felanmalan.classify.category", string(cat)))
	metrics.ClassificationsTotal.WithLabelValues(string(cat), source).Inc()
	return cat
}

func (s *classifyService) attempt(ctx context.Context, image *domain.Upload, description string) (domain.Category, error) {
	if s.assistant == nil || s.assistantID == "" || s.apiKey == "" {
		return "", fmt.Errorf("%w: assistant not configured", ErrClassifierUnavailable)
	}
	description = strings.TrimSpace(description)
	if image == nil && description == "" {
		return "", fmt.Errorf("%w: no image or description", ErrClassifierUnavailable)
	}

	files := []assistantFile{}
	if image != nil {
		if id, ok := s.uploadImage(ctx, image); ok {
			files = append(files, assistantFile{ID: id})
		}
	}
	if len(files) == 0 && description == "" {
		return "", fmt.Errorf("%w: image unusable and no description", ErrClassifierUnavailable)
	}

	resp, err := s.assistant.Post(ctx, providers.Request{
		Path:    "assistants/" + s.assistantID + "/sessions/",
		Body:    assistantQuestion{Question: buildQuestion(description), Files: files, Stream: false},
		Headers: s.headers(),
	})
	if err != nil {
		s.logger.Warn("assistant request failed", "err", err)
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	answer, err := providers.DecodeJSON[assistantAnswer](resp)
	if err != nil || strings.TrimSpace(answer.Answer) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrClassifierUnavailable)
	}
	return ParseCategory(answer.Answer), nil
}

// uploadImage sends a downscaled copy of image and returns its file id. Any
// failure only drops the image from the question.
func (s *classifyService) uploadImage(ctx context.Context, image *domain.Upload) (string, bool) {
	small, err := s.downscale(image.Data)
	if err != nil {
		s.logger.Warn("image downscale failed, continuing without image", "file", image.FileName, "err", err)
		return "", false
	}
	s.logger.Debug("image downscaled for classification", "from_kb", len(image.Data)/1024, "to_kb", len(small)/1024)

	resp, err := s.assistant.Post(ctx, providers.Request{
		Path:      "files/",
		File:      &domain.Upload{FileName: image.FileName, ContentType: "image/jpeg", Data: small},
		FileField: "upload_file",
		Headers:   s.headers(),
	})
	if err != nil {
		s.logger.Warn("assistant file upload failed, continuing without image", "err", err)
		return "", false
	}
	f, err := providers.DecodeJSON[assistantFile](resp)
	if err != nil || f.ID == "" {
		s.logger.Warn("assistant file upload returned no id, continuing without image")
		return "", false
	}
	return f.ID, true
}

func (s *classifyService) headers() map[string]string {
	return map[string]string{"api-key": s.apiKey}
}

func buildQuestion(description string) string {
	if description != "" {
		return fmt.Sprintf("Classify this fault report. Description: \"%s\". Respond with ONLY the category code.", description)
	}
	return "Classify this fault report based on the image. Respond with ONLY the category code."
}

// ParseCategory maps a free-text assistant answer onto the category set: exact
// match first, then the first category the answer contains, else OTHER.
func ParseCategory(answer string) domain.Category {
	cleaned := strings.ToUpper(strings.NewReplacer("'", "", `"`, "").Replace(strings.TrimSpace(answer)))

	for _, c := range domain.Categories {
		if string(c) == cleaned {
			return c
		}
	}
	for _, c := range domain.Categories {
		if strings.Contains(cleaned, string(c)) {
			return c
		}
	}
	return domain.DefaultCategory
}
