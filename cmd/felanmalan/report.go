package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
	"github.com/osvaldoandrade/felanmalan/pkg/geo"
	"github.com/osvaldoandrade/felanmalan/pkg/wizard"
)

var errAborted = errors.New("report cancelled")

var imageTypesByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

type errandLister interface {
	ActiveErrands(ctx context.Context) ([]domain.ErrandMarker, error)
}

type reportOptions struct {
	images      []domain.Upload
	location    *wizard.Location
	description string
	email       string
	phone       string
	yes         bool
	interactive bool
}

func reportCmd(g *globals, ui *ui) *cobra.Command {
	var (
		images      []string
		at          string
		lat, lng    float64
		description string
		email       string
		phone       string
		yes         bool
		noPrompt    bool
	)
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Report a fault",
		Example: "felanmalan report --image hole.jpg --at 617144,6921822 --description \"Pothole on Main St\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := reportOptions{
				description: description,
				email:       firstNonEmpty(email, g.profile.Email),
				phone:       firstNonEmpty(phone, g.profile.Phone),
				yes:         yes,
				interactive: !noPrompt && isTerminal(int(os.Stdin.Fd())),
			}
			switch {
			case at != "":
				x, y, err := parsePoint(at)
				if err != nil {
					return err
				}
				opts.location = &wizard.Location{X: x, Y: y}
			case cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng"):
				x, y := geo.ToProjected(lat, lng)
				opts.location = &wizard.Location{X: x, Y: y}
			}

			uploads, err := readImages(images)
			if err != nil {
				return err
			}
			opts.images = uploads

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := g.client()
			session := wizard.NewSession(c, nil)
			defer session.Reset()
			return runReport(ctx, session, c, opts, bufio.NewReader(os.Stdin), cmd.OutOrStdout(), ui)
		},
	}
	cmd.Flags().StringArrayVar(&images, "image", nil, "Image file (repeatable, up to 10)")
	cmd.Flags().StringVar(&at, "at", "", "Location as x,y in SWEREF 99 TM")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude (WGS84)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude (WGS84)")
	cmd.Flags().StringVar(&description, "description", "", "What is wrong")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "Contact phone")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Submit without asking for confirmation")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

// runReport walks the session through its three steps and submits it.
func runReport(ctx context.Context, s *wizard.Session, lister errandLister, opts reportOptions, in *bufio.Reader, out io.Writer, ui *ui) error {
	if err := s.AddImages(opts.images...); err != nil {
		printErrors(out, ui, err)
	}
	if opts.location != nil {
		s.SetLocation(opts.location.X, opts.location.Y)
	}
	fmt.Fprintf(out, "%s 1/3 Report\n", ui.title("==>"))
	description := opts.description
	if opts.interactive && description == "" {
		description = prompt(in, "Description (optional)", "")
	}
	s.SetDescription(strings.TrimSpace(description))

	for {
		err := s.Continue()
		if err == nil {
			break
		}
		printErrors(out, ui, err)
		if !opts.interactive {
			return err
		}
		if errors.Is(err, wizard.ErrNoImage) {
			path := prompt(in, "Image file", "")
			if path == "" {
				return errAborted
			}
			uploads, rerr := readImages([]string{path})
			if rerr != nil {
				fmt.Fprintln(out, ui.err("[ERROR]"), rerr)
				continue
			}
			if aerr := s.AddImages(uploads...); aerr != nil {
				printErrors(out, ui, aerr)
			}
		}
		if errors.Is(err, wizard.ErrNoLocation) {
			raw := prompt(in, "Location x,y (SWEREF 99 TM)", "")
			if raw == "" {
				return errAborted
			}
			x, y, perr := parsePoint(raw)
			if perr != nil {
				fmt.Fprintln(out, ui.err("[ERROR]"), perr)
				continue
			}
			s.SetLocation(x, y)
		}
	}

	if loc := s.Snapshot().Location; loc != nil {
		if dup, dist, ok := nearbyReport(ctx, lister, *loc, out, ui); ok {
			fmt.Fprintf(out, "%s Report %s is already open %.0f m from here (%s)\n",
				ui.warn("[WARN]"), firstNonEmpty(dup.ErrandNumber, dup.ID), dist, emptyOr(dup.Title, "untitled"))
			if opts.interactive && !opts.yes && !confirm(in, "Report anyway?") {
				return errAborted
			}
		}
	}

	fmt.Fprintf(out, "%s 2/3 Contact\n", ui.title("==>"))
	email, phone := opts.email, opts.phone
	if opts.interactive {
		email = prompt(in, "Email (optional)", email)
		phone = prompt(in, "Phone (optional)", phone)
	}
	s.SetEmail(strings.TrimSpace(email))
	s.SetPhone(strings.TrimSpace(phone))
	if err := s.Continue(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s 3/3 Review\n", ui.title("==>"))
	printReview(out, ui, s.Snapshot(), s.Payload())
	if opts.interactive && !opts.yes && !confirm(in, "Submit report?") {
		return errAborted
	}

	for {
		spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
		spin.Suffix = " Submitting report..."
		spin.Start()
		created, err := s.Submit(ctx)
		spin.Stop()
		if err == nil {
			fmt.Fprintf(out, "%s Report received: %s\n", ui.ok("[OK]"), firstNonEmpty(created.ErrandNumber, created.ID))
			return nil
		}
		fmt.Fprintln(out, ui.err("[ERROR]"), s.Snapshot().SubmitError)
		if !opts.interactive || !confirm(in, "Try again?") {
			return err
		}
		s.DismissError()
	}
}

func nearbyReport(ctx context.Context, lister errandLister, loc wizard.Location, out io.Writer, ui *ui) (domain.ErrandMarker, float64, bool) {
	markers, err := lister.ActiveErrands(ctx)
	if err != nil {
		fmt.Fprintln(out, ui.dim("could not check for nearby reports:"), err)
		return domain.ErrandMarker{}, 0, false
	}
	dup, ok := geo.FindDuplicate(domain.Point{X: loc.X, Y: loc.Y}, markers)
	if !ok {
		return domain.ErrandMarker{}, 0, false
	}
	_, dist, _ := geo.Nearest(domain.Point{X: loc.X, Y: loc.Y}, markers)
	return *dup, dist, true
}

func printReview(out io.Writer, ui *ui, snap wizard.Snapshot, draft domain.ErrandDraft) {
	fmt.Fprintf(out, "  %s %s\n", ui.dim("Title:"), draft.Title)
	if draft.Description != "" {
		fmt.Fprintf(out, "  %s %s\n", ui.dim("Description:"), draft.Description)
	}
	if snap.Location != nil {
		lat, lng := geo.ToGeographic(snap.Location.X, snap.Location.Y)
		fmt.Fprintf(out, "  %s %.0f, %.0f (%.5f, %.5f)\n", ui.dim("Location:"), snap.Location.X, snap.Location.Y, lat, lng)
	}
	for i, img := range snap.Images {
		fmt.Fprintf(out, "  %s %d. %s (%s)\n", ui.dim("Image:"), i+1, img.FileName, humanBytes(len(img.Data)))
	}
	fmt.Fprintf(out, "  %s %s\n", ui.dim("Email:"), emptyOr(snap.Email, "-"))
	fmt.Fprintf(out, "  %s %s\n", ui.dim("Phone:"), emptyOr(snap.Phone, "-"))
}

func printErrors(out io.Writer, ui *ui, err error) {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			fmt.Fprintln(out, ui.warn("[WARN]"), e)
		}
		return
	}
	fmt.Fprintln(out, ui.warn("[WARN]"), err)
}

// readImages loads image files into memory, showing a byte progress bar.
func readImages(paths []string) ([]domain.Upload, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var total int64
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		total += st.Size()
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("Reading images"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(18),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	out := make([]domain.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		_, err = io.Copy(io.MultiWriter(&buf, bar), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, domain.Upload{
			FileName:    filepath.Base(p),
			ContentType: detectContentType(p, buf.Bytes()),
			Data:        buf.Bytes(),
		})
	}
	return out, nil
}

func detectContentType(path string, data []byte) string {
	if ct, ok := imageTypesByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return http.DetectContentType(data)
}

func parsePoint(raw string) (float64, float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid location %q, expected x,y", raw)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid location %q: %w", raw, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid location %q: %w", raw, err)
	}
	return x, y, nil
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f kB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
