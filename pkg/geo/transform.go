// Package geo converts between SWEREF 99 TM (EPSG:3006) and WGS84 and answers
// proximity questions in the projected plane.
package geo

import (
	"math"
	"sync"

	"github.com/go-spatial/proj/core"
	_ "github.com/go-spatial/proj/operations"
	"github.com/go-spatial/proj/support"
)

// EPSG:3006 is UTM zone 33 on GRS80 with a zero datum shift to WGS84.
const swerefProj = "+proj=utm +zone=33 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"

var (
	swerefOnce sync.Once
	swerefOp   core.IConvertLPToXY
	swerefErr  error
)

func sweref() (core.IConvertLPToXY, error) {
	swerefOnce.Do(func() {
		ps, err := support.NewProjString(swerefProj)
		if err != nil {
			swerefErr = err
			return
		}
		_, opx, err := core.NewSystem(ps)
		if err != nil {
			swerefErr = err
			return
		}
		swerefOp = opx.(core.IConvertLPToXY)
	})
	return swerefOp, swerefErr
}

// ToGeographic converts projected easting x and northing y (metres) to WGS84
// latitude and longitude in degrees. Points outside the projection domain
// yield NaN.
func ToGeographic(x, y float64) (lat, lng float64) {
	op, err := sweref()
	if err != nil {
		return math.NaN(), math.NaN()
	}
	lp, err := op.Inverse(&core.CoordXY{X: x, Y: y})
	if err != nil || lp == nil {
		return math.NaN(), math.NaN()
	}
	lat, lng = support.RToDD(lp.Phi), support.RToDD(lp.Lam)
	if !finite(lat) || !finite(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return math.NaN(), math.NaN()
	}
	return lat, lng
}

// ToProjected converts WGS84 latitude and longitude in degrees to projected
// easting x and northing y (metres).
func ToProjected(lat, lng float64) (x, y float64) {
	op, err := sweref()
	if err != nil {
		return math.NaN(), math.NaN()
	}
	xy, err := op.Forward(&core.CoordLP{Lam: support.DDToR(lng), Phi: support.DDToR(lat)})
	if err != nil || xy == nil || !finite(xy.X) || !finite(xy.Y) {
		return math.NaN(), math.NaN()
	}
	return xy.X, xy.Y
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
