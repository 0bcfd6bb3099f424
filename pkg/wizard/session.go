// Package wizard holds an in-progress fault report across the three report
// steps and drives its submission.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

type Step int

const (
	StepReport Step = iota
	StepContact
	StepReview
)

const lastStep = StepReview

type SubmitState string

const (
	SubmitIdle       SubmitState = "idle"
	SubmitSubmitting SubmitState = "submitting"
	SubmitSuccess    SubmitState = "success"
	SubmitError      SubmitState = "error"
)

// Limits applied before an image is accepted into the draft.
const (
	MaxImages         = 10
	MaxImageSizeBytes = 25 << 20
	titleDescRunes    = 60
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/heic": true,
}

var (
	ErrNoImage          = errors.New("add at least one image")
	ErrNoLocation       = errors.New("mark the location on the map")
	ErrStepOutOfRange   = errors.New("step out of range")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrAlreadySubmitted = errors.New("report already submitted, reset to start a new one")
	ErrImageTooLarge    = errors.New("image exceeds 25MB")
	ErrImageType        = errors.New("only image files are allowed")
	ErrTooManyImages    = errors.New("at most 10 images per report")
)

const msgSubmitFailed = "Could not submit the report, please try again"

// Submitter sends a finished draft to the backend.
type Submitter interface {
	SubmitErrand(ctx context.Context, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, error)
}

// Location is a point in the projected (EPSG:3006) system.
type Location struct {
	X float64
	Y float64
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Step         Step
	Images       []domain.Upload
	Previews     []PreviewHandle
	Location     *Location
	Description  string
	Email        string
	Phone        string
	SubmitState  SubmitState
	SubmitError  string
	ErrandID     string
	ErrandNumber string
}

// Session is one citizen's report in progress. Construct one per report flow
// and call Reset when it ends; the session owns every preview handle it creates.
type Session struct {
	mu        sync.Mutex
	previewer Previewer
	submitter Submitter
	now       func() time.Time

	step         Step
	images       []domain.Upload
	previews     []PreviewHandle
	location     *Location
	description  string
	email        string
	phone        string
	submitState  SubmitState
	submitError  string
	errandID     string
	errandNumber string

	// gen is bumped by Reset so a submission that outlives its draft
	// does not write into the next one.
	gen uint64
}

// NewSession panics when submitter is nil. A nil previewer falls back to an
// in-memory registry.
func NewSession(submitter Submitter, previewer Previewer) *Session {
	if submitter == nil {
		panic("wizard: nil Submitter")
	}
	if previewer == nil {
		previewer = NewPreviewRegistry()
	}
	return &Session{
		previewer:   previewer,
		submitter:   submitter,
		now:         time.Now,
		submitState: SubmitIdle,
	}
}

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) NextStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step < lastStep {
		s.step++
	}
}

func (s *Session) PrevStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step > StepReport {
		s.step--
	}
}

// GoToStep jumps without validating the steps in between.
func (s *Session) GoToStep(step Step) error {
	if step < StepReport || step > lastStep {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, step)
	}
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
	return nil
}

// Continue validates the current step and advances when it passes.
func (s *Session) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == StepReport {
		if err := s.validateReportLocked(); err != nil {
			return err
		}
	}
	if s.step < lastStep {
		s.step++
	}
	return nil
}

// ValidateReportStep returns every problem of the report step at once.
func (s *Session) ValidateReportStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateReportLocked()
}

func (s *Session) validateReportLocked() error {
	var errs []error
	if len(s.images) == 0 {
		errs = append(errs, ErrNoImage)
	}
	if s.location == nil {
		errs = append(errs, ErrNoLocation)
	}
	return errors.Join(errs...)
}

// AddImages accepts the files that pass the size, type and count checks and
// reports the rejected ones. Accepted files are added even when others fail.
func (s *Session) AddImages(files ...domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range files {
		f.ContentType = strings.ToLower(strings.TrimSpace(f.ContentType))
		switch {
		case len(f.Data) > MaxImageSizeBytes:
			errs = append(errs, fmt.Errorf("%s: %w", f.FileName, ErrImageTooLarge))
		case !allowedImageTypes[f.ContentType]:
			errs = append(errs, fmt.Errorf("%s: %w", f.FileName, ErrImageType))
		case len(s.images) >= MaxImages:
			errs = append(errs, fmt.Errorf("%s: %w", f.FileName, ErrTooManyImages))
		default:
			s.images = append(s.images, f)
			s.previews = append(s.previews, s.previewer.Create(f))
		}
	}
	return errors.Join(errs...)
}

// RemoveImage drops the image at i and revokes only its preview.
func (s *Session) RemoveImage(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.images) {
		return
	}
	s.previewer.Revoke(s.previews[i])
	s.images = append(s.images[:i:i], s.images[i+1:]...)
	s.previews = append(s.previews[:i:i], s.previews[i+1:]...)
}

func (s *Session) SetLocation(x, y float64) {
	s.mu.Lock()
	s.location = &Location{X: x, Y: y}
	s.mu.Unlock()
}

func (s *Session) ClearLocation() {
	s.mu.Lock()
	s.location = nil
	s.mu.Unlock()
}

func (s *Session) SetDescription(v string) {
	s.mu.Lock()
	s.description = v
	s.mu.Unlock()
}

func (s *Session) SetEmail(v string) {
	s.mu.Lock()
	s.email = v
	s.mu.Unlock()
}

func (s *Session) SetPhone(v string) {
	s.mu.Lock()
	s.phone = v
	s.mu.Unlock()
}

// DismissError clears a failed submission so the draft can be sent again.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitState == SubmitError {
		s.submitState = SubmitIdle
		s.submitError = ""
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Step:         s.step,
		Images:       append([]domain.Upload(nil), s.images...),
		Previews:     append([]PreviewHandle(nil), s.previews...),
		Description:  s.description,
		Email:        s.email,
		Phone:        s.phone,
		SubmitState:  s.submitState,
		SubmitError:  s.submitError,
		ErrandID:     s.errandID,
		ErrandNumber: s.errandNumber,
	}
	if s.location != nil {
		loc := *s.location
		snap.Location = &loc
	}
	return snap
}

// Payload assembles the errand draft sent on submit.
func (s *Session) Payload() domain.ErrandDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadLocked(s.now())
}

func (s *Session) payloadLocked(now time.Time) domain.ErrandDraft {
	draft := domain.ErrandDraft{
		Title:          title(s.description, now),
		Description:    s.description,
		Classification: &domain.Classification{Category: "CONTACT_SUNDSVALL", Type: "INCIDENT_REPORT"},
		Priority:       "MEDIUM",
	}

	var channels []domain.ContactChannel
	if s.email != "" {
		channels = append(channels, domain.ContactChannel{Type: "EMAIL", Value: s.email})
	}
	if s.phone != "" {
		channels = append(channels, domain.ContactChannel{Type: "PHONE", Value: s.phone})
	}
	if len(channels) > 0 {
		draft.Stakeholders = []domain.Stakeholder{{ContactChannels: channels, Role: "CONTACT"}}
	}

	if s.location != nil {
		draft.Parameters = []domain.Parameter{
			{Key: domain.ParamCoordinates, Values: []string{
				strconv.FormatFloat(s.location.X, 'f', -1, 64) + "," + strconv.FormatFloat(s.location.Y, 'f', -1, 64),
			}},
			{Key: domain.ParamCoordinatesCRS, Values: []string{domain.CRSProjected}},
		}
	}
	return draft
}

func title(description string, now time.Time) string {
	if description == "" {
		return "Felanmälan " + now.UTC().Format("2006-01-02")
	}
	r := []rune(description)
	if len(r) > titleDescRunes {
		return "Felanmälan – " + string(r[:titleDescRunes]) + "..."
	}
	return "Felanmälan – " + description
}

// Submit sends the draft. On failure the draft is kept and the session moves
// to SubmitError with a message fit for the user.
func (s *Session) Submit(ctx context.Context) (*domain.CreatedErrand, error) {
	s.mu.Lock()
	switch s.submitState {
	case SubmitSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	case SubmitSuccess:
		s.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	s.submitState = SubmitSubmitting
	s.submitError = ""
	draft := s.payloadLocked(s.now())
	images := append([]domain.Upload(nil), s.images...)
	gen := s.gen
	s.mu.Unlock()

	created, err := s.submitter.SubmitErrand(ctx, draft, images)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return created, err
	}
	if err != nil {
		s.submitState = SubmitError
		s.submitError = userMessage(err)
		return nil, err
	}
	s.submitState = SubmitSuccess
	s.errandID = created.ID
	s.errandNumber = created.ErrandNumber
	return created, nil
}

func userMessage(err error) string {
	var he *domain.HTTPError
	if errors.As(err, &he) && he.Message != "" {
		return he.Message
	}
	return msgSubmitFailed
}

// Reset revokes every preview and restores the empty draft.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.previews {
		s.previewer.Revoke(h)
	}
	s.gen++
	s.step = StepReport
	s.images = nil
	s.previews = nil
	s.location = nil
	s.description = ""
	s.email = ""
	s.phone = ""
	s.submitState = SubmitIdle
	s.submitError = ""
	s.errandID = ""
	s.errandNumber = ""
}
