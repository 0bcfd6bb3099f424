package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
	"github.com/osvaldoandrade/felanmalan/pkg/wizard"
)

func init() {
	color.NoColor = true
}

type fakeBackend struct {
	markers    []domain.ErrandMarker
	listErr    error
	submitErrs []error
	drafts     []domain.ErrandDraft
}

func (f *fakeBackend) ActiveErrands(context.Context) ([]domain.ErrandMarker, error) {
	return f.markers, f.listErr
}

func (f *fakeBackend) SubmitErrand(_ context.Context, draft domain.ErrandDraft, _ []domain.Upload) (*domain.CreatedErrand, error) {
	f.drafts = append(f.drafts, draft)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return nil, err
	}
	return &domain.CreatedErrand{ID: "e-7", ErrandNumber: "KC-7"}, nil
}

func jpeg(name string) domain.Upload {
	return domain.Upload{FileName: name, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func TestRunReport_NonInteractive(t *testing.T) {
	be := &fakeBackend{markers: []domain.ErrandMarker{
		{ID: "near", ErrandNumber: "KC-1", Title: "Hål", Coordinates: domain.Point{X: 617144 + 15, Y: 6921822}},
	}}
	s := wizard.NewSession(be, nil)
	var out bytes.Buffer

	err := runReport(context.Background(), s, be, reportOptions{
		images:      []domain.Upload{jpeg("a.jpg"), jpeg("b.jpg")},
		location:    &wizard.Location{X: 617144, Y: 6921822},
		description: "pothole on Main St",
		email:       "a@b.se",
	}, bufio.NewReader(strings.NewReader("")), &out, newUI())
	require.NoError(t, err)

	assert.Contains(t, out.String(), "KC-1 is already open 15 m from here")
	assert.Contains(t, out.String(), "Report received: KC-7")
	require.Len(t, be.drafts, 1)
	assert.Equal(t, "Felanmälan – pothole on Main St", be.drafts[0].Title)
	assert.Equal(t, "a@b.se", be.drafts[0].Stakeholders[0].ContactChannels[0].Value)
	assert.Equal(t, wizard.SubmitSuccess, s.Snapshot().SubmitState)
}

func TestRunReport_MissingLocationFails(t *testing.T) {
	be := &fakeBackend{}
	var out bytes.Buffer

	err := runReport(context.Background(), wizard.NewSession(be, nil), be, reportOptions{},
		bufio.NewReader(strings.NewReader("")), &out, newUI())
	assert.ErrorIs(t, err, wizard.ErrNoImage)
	assert.ErrorIs(t, err, wizard.ErrNoLocation)
	assert.Contains(t, out.String(), "add at least one image")
	assert.Contains(t, out.String(), "mark the location on the map")
	assert.Empty(t, be.drafts)
}

func TestRunReport_InteractiveRetry(t *testing.T) {
	be := &fakeBackend{
		listErr:    errors.New("offline"),
		submitErrs: []error{domain.NewHTTPError(502, domain.MsgUploadFailed)},
	}
	s := wizard.NewSession(be, nil)
	var out bytes.Buffer
	// description, email, phone, submit?, try again?
	in := bufio.NewReader(strings.NewReader("trasig lampa\n\n070-1\ny\ny\n"))

	err := runReport(context.Background(), s, be, reportOptions{
		images:      []domain.Upload{jpeg("a.jpg")},
		location:    &wizard.Location{X: 1, Y: 2},
		interactive: true,
	}, in, &out, newUI())
	require.NoError(t, err)

	assert.Contains(t, out.String(), "could not check for nearby reports")
	assert.Contains(t, out.String(), domain.MsgUploadFailed)
	require.Len(t, be.drafts, 2)
	assert.Equal(t, be.drafts[0], be.drafts[1])
	assert.Equal(t, "trasig lampa", be.drafts[1].Description)
	assert.Equal(t, "PHONE", be.drafts[1].Stakeholders[0].ContactChannels[0].Type)
}

func TestParsePoint(t *testing.T) {
	x, y, err := parsePoint(" 617144.5 , 6921822")
	require.NoError(t, err)
	assert.Equal(t, 617144.5, x)
	assert.Equal(t, 6921822.0, y)

	for _, raw := range []string{"", "1", "a,2", "1,b", "1,2,3"} {
		_, _, err := parsePoint(raw)
		assert.Error(t, err, raw)
	}
}

func TestReadImages(t *testing.T) {
	dir := t.TempDir()
	heic := filepath.Join(dir, "IMG_1.HEIC")
	noext := filepath.Join(dir, "photo")
	require.NoError(t, os.WriteFile(heic, []byte("ftypheic"), 0o600))
	require.NoError(t, os.WriteFile(noext, []byte("\x89PNG\r\n\x1a\n0000"), 0o600))

	got, err := readImages([]string{heic, noext})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "IMG_1.HEIC", got[0].FileName)
	assert.Equal(t, "image/heic", got[0].ContentType)
	assert.Equal(t, "image/png", got[1].ContentType)

	_, err = readImages([]string{filepath.Join(dir, "missing.jpg")})
	assert.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("FELANMALAN_CONFIG_DIR", t.TempDir())
	t.Setenv("FELANMALAN_PROFILE", "")

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, "default", resolveProfileName("", cfg))

	cfg.CurrentProfile = "test"
	cfg.Profiles["test"] = profile{BaseURL: "https://felanmalan.example/api", Email: "a@b.se"}
	require.NoError(t, saveConfig(cfg, path))

	loaded, _, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "test", resolveProfileName("", loaded))
	assert.Equal(t, "prod", resolveProfileName(" prod ", loaded))
	assert.Equal(t, "https://felanmalan.example/api", loaded.Profiles["test"].BaseURL)
}

func TestDescribeNearest(t *testing.T) {
	markers := []domain.ErrandMarker{
		{ID: "far", Coordinates: domain.Point{X: 25, Y: 0}},
		{ID: "near", ErrandNumber: "KC-2", Coordinates: domain.Point{X: 15, Y: 0}},
	}
	var out bytes.Buffer
	describeNearest(&out, newUI(), domain.Point{}, markers)
	assert.Contains(t, out.String(), "Possible duplicate: KC-2 15.0 m away")

	out.Reset()
	describeNearest(&out, newUI(), domain.Point{}, markers[:1])
	assert.Contains(t, out.String(), "No open report within 20 m, nearest is far at 25 m")

	out.Reset()
	describeNearest(&out, newUI(), domain.Point{}, nil)
	assert.Contains(t, out.String(), "No open reports")
}
