package controllers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/services"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"

	"github.com/gin-gonic/gin"
)

const (
	MaxImages         = 10
	MaxImageSizeBytes = 25 << 20

	// Room for the errand field and multipart framing on top of the images.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// AllowedImageTypes is the set of accepted image part content types.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/heic": true,
}

type createErrandController struct{ svc services.ErrandService }

func NewCreateErrandController(svc services.ErrandService) *createErrandController {
	return &createErrandController{svc}
}

func (h *createErrandController) Handle(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxImages*MaxImageSizeBytes+multipartOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		h.reject(c, parseFailure(err))
		return
	}
	form := c.Request.MultipartForm

	headers := form.File["images"]
	if len(headers) > MaxImages {
		h.reject(c, domain.NewHTTPError(http.StatusBadRequest, domain.MsgTooManyFiles))
		return
	}
	for _, fh := range headers {
		if !AllowedImageTypes[fh.Header.Get("Content-Type")] {
			h.reject(c, domain.NewHTTPError(http.StatusBadRequest, domain.MsgImagesOnly))
			return
		}
		if fh.Size > MaxImageSizeBytes {
			h.reject(c, domain.NewHTTPError(http.StatusRequestEntityTooLarge, domain.MsgFileTooLarge))
			return
		}
	}

	raw, ok := form.Value["errand"]
	if !ok || len(raw) == 0 {
		h.reject(c, domain.NewHTTPError(http.StatusBadRequest, domain.MsgMissingPayload))
		return
	}
	var draft domain.ErrandDraft
	if err := decodeStrict(raw[0], &draft); err != nil {
		loggerFrom(c).Info("errand payload rejected", "err", err)
		h.reject(c, domain.NewHTTPError(http.StatusBadRequest, domain.MsgInvalidPayload))
		return
	}

	images, err := readImages(headers)
	if err != nil {
		loggerFrom(c).Error("reading uploaded image failed", "err", err)
		h.reject(c, domain.NewHTTPError(http.StatusBadRequest, domain.MsgInvalidPayload))
		return
	}

	created, err := h.svc.Create(c.Request.Context(), draft, images)
	if err != nil {
		writeError(c, err, http.StatusBadGateway, domain.MsgCreateErrandFailed)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *createErrandController) reject(c *gin.Context, err *domain.HTTPError) {
	metrics.ErrandSubmissionsTotal.WithLabelValues("rejected").Inc()
	abortMessage(c, err.Status, err.Message)
}

func parseFailure(err error) *domain.HTTPError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.NewHTTPError(http.StatusRequestEntityTooLarge, domain.MsgFileTooLarge)
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return domain.NewHTTPError(http.StatusBadRequest, domain.MsgMissingPayload)
	}
	return domain.NewHTTPError(http.StatusBadRequest, domain.MsgInvalidPayload)
}

func readImages(headers []*multipart.FileHeader) ([]domain.Upload, error) {
	out := make([]domain.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return out, nil
}
