package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

type fakeErrandService struct {
	createCalls int
	draft       domain.ErrandDraft
	images      []domain.Upload
	createErr   error
	markers     []domain.ErrandMarker
	listErr     error
	attachment  *domain.Attachment
	attErr      error
}

func (f *fakeErrandService) Create(_ context.Context, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, error) {
	f.createCalls++
	f.draft = draft
	f.images = images
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.CreatedErrand{ID: "e-1", ErrandNumber: "KC-1"}, nil
}

func (f *fakeErrandService) ListActive(context.Context) ([]domain.ErrandMarker, error) {
	return f.markers, f.listErr
}

func (f *fakeErrandService) GetAttachment(context.Context, string, string) (*domain.Attachment, error) {
	return f.attachment, f.attErr
}

type part struct {
	name, contentType string
	size              int
}

func multipartBody(t *testing.T, errand *string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if errand != nil {
		require.NoError(t, w.WriteField("errand", *errand))
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="images"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(bytes.Repeat([]byte{0xab}, p.size))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func serveCreate(t *testing.T, svc *fakeErrandService, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/errands", NewCreateErrandController(svc).Handle)

	req := httptest.NewRequest(http.MethodPost, "/errands", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["message"]
}

func strPtr(s string) *string { return &s }

func TestCreateErrand_Success(t *testing.T) {
	svc := &fakeErrandService{}
	body, ct := multipartBody(t, strPtr(`{"title":"Felanmälan – hål","description":"pothole","parameters":[{"key":"coordinates","values":["617144,6921822"]}]}`),
		part{"a.jpg", "image/jpeg", 10},
		part{"b.png", "image/png", 20},
	)
	rec := serveCreate(t, svc, body, ct)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out domain.CreatedErrand
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, domain.CreatedErrand{ID: "e-1", ErrandNumber: "KC-1"}, out)

	require.Len(t, svc.images, 2)
	assert.Equal(t, "a.jpg", svc.images[0].FileName)
	assert.Equal(t, "image/png", svc.images[1].ContentType)
	assert.Len(t, svc.images[1].Data, 20)
	assert.Equal(t, "pothole", svc.draft.Description)
}

func TestCreateErrand_ClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		errand     *string
		parts      []part
		wantStatus int
		wantMsg    string
	}{
		{"missing payload", nil, nil, http.StatusBadRequest, domain.MsgMissingPayload},
		{"malformed json", strPtr(`{"title":`), nil, http.StatusBadRequest, domain.MsgInvalidPayload},
		{"not an object", strPtr(`["x"]`), nil, http.StatusBadRequest, domain.MsgInvalidPayload},
		{"server-owned field", strPtr(`{"title":"t","reporterUserId":"me"}`), nil, http.StatusBadRequest, domain.MsgInvalidPayload},
		{"disallowed type", strPtr(`{"title":"t"}`), []part{{"a.pdf", "application/pdf", 5}}, http.StatusBadRequest, domain.MsgImagesOnly},
		{"too many files", strPtr(`{"title":"t"}`), make11(), http.StatusBadRequest, domain.MsgTooManyFiles},
		{"file too large", strPtr(`{"title":"t"}`), []part{{"big.jpg", "image/jpeg", MaxImageSizeBytes + 1}}, http.StatusRequestEntityTooLarge, domain.MsgFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeErrandService{}
			body, ct := multipartBody(t, tt.errand, tt.parts...)
			rec := serveCreate(t, svc, body, ct)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, messageOf(t, rec))
			assert.Zero(t, svc.createCalls)
		})
	}
}

func make11() []part {
	out := make([]part, 11)
	for i := range out {
		out[i] = part{"img.jpg", "image/jpeg", 1}
	}
	return out
}

func TestCreateErrand_NotMultipart(t *testing.T) {
	svc := &fakeErrandService{}
	rec := serveCreate(t, svc, bytes.NewBufferString(`{"title":"t"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.MsgMissingPayload, messageOf(t, rec))
}

func TestCreateErrand_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"rollback failed", domain.NewHTTPError(http.StatusBadGateway, domain.MsgUploadRollbackFailed), http.StatusBadGateway, domain.MsgUploadRollbackFailed},
		{"upstream 400", domain.UpstreamError(http.StatusBadRequest), http.StatusBadRequest, domain.MsgUpstreamFailed},
		{"unmapped", assert.AnError, http.StatusBadGateway, domain.MsgCreateErrandFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeErrandService{createErr: tt.err}
			body, ct := multipartBody(t, strPtr(`{"title":"t"}`))
			rec := serveCreate(t, svc, body, ct)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, messageOf(t, rec))
		})
	}
}

func TestListErrands(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ok", func(t *testing.T) {
		svc := &fakeErrandService{markers: []domain.ErrandMarker{{ID: "1", Status: domain.StatusNew, Coordinates: domain.Point{X: 1, Y: 2}}}}
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/errands", nil)
		NewListErrandsController(svc).Handle(c)

		require.Equal(t, http.StatusOK, rec.Code)
		var out struct {
			Errands []domain.ErrandMarker `json:"errands"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out.Errands, 1)
		assert.Equal(t, domain.Point{X: 1, Y: 2}, out.Errands[0].Coordinates)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		svc := &fakeErrandService{markers: []domain.ErrandMarker{}}
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/errands", nil)
		NewListErrandsController(svc).Handle(c)
		assert.JSONEq(t, `{"errands":[]}`, rec.Body.String())
	})

	t.Run("upstream unavailable", func(t *testing.T) {
		svc := &fakeErrandService{listErr: domain.UpstreamError(0)}
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/errands", nil)
		NewListErrandsController(svc).Handle(c)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, domain.MsgUpstreamUnavailable, messageOf(t, rec))
	})
}

func serveAttachment(svc *fakeErrandService) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/errands/:errandId/attachments/:attachmentId", NewGetAttachmentController(svc).Handle)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/errands/e-1/attachments/a-1", nil))
	return rec
}

func TestGetAttachment(t *testing.T) {
	t.Run("proxies bytes", func(t *testing.T) {
		rec := serveAttachment(&fakeErrandService{attachment: &domain.Attachment{ContentType: "image/png", Data: []byte("png")}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "png", rec.Body.String())
	})

	t.Run("not found passes through", func(t *testing.T) {
		rec := serveAttachment(&fakeErrandService{attErr: domain.UpstreamError(http.StatusNotFound)})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, domain.MsgAttachmentNotFound, messageOf(t, rec))
	})

	t.Run("other failures are 502", func(t *testing.T) {
		rec := serveAttachment(&fakeErrandService{attErr: domain.UpstreamError(http.StatusForbidden)})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, domain.MsgFetchAttachmentFailed, messageOf(t, rec))
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	NewHealthController().Handle(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
}
