package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

// DuplicateRadius is the distance in metres under which a new report is
// flagged as a likely duplicate of an existing one.
const DuplicateRadius = 20.0

func pointOf(p domain.Point) orb.Point { return orb.Point{p.X, p.Y} }

// Nearest returns the marker closest to candidate and its planar distance.
// The first of several equally close markers wins. ok is false when markers is empty.
func Nearest(candidate domain.Point, markers []domain.ErrandMarker) (nearest domain.ErrandMarker, dist float64, ok bool) {
	c := pointOf(candidate)
	for i, m := range markers {
		d := planar.Distance(c, pointOf(m.Coordinates))
		if i == 0 || d < dist {
			nearest, dist, ok = m, d, true
		}
	}
	return nearest, dist, ok
}

// FindDuplicate returns the nearest marker if it lies strictly within
// DuplicateRadius of candidate. Both sides are projected coordinates.
func FindDuplicate(candidate domain.Point, markers []domain.ErrandMarker) (*domain.ErrandMarker, bool) {
	m, d, ok := Nearest(candidate, markers)
	if !ok || d >= DuplicateRadius {
		return nil, false
	}
	return &m, true
}
