package crs

import "math"

type ellipsoid struct {
	a  float64
	e2 float64
}

func newEllipsoid(a, invf float64) ellipsoid {
	f := 1 / invf
	return ellipsoid{a: a, e2: f * (2 - f)}
}

var (
	bessel1841 = newEllipsoid(6377397.155, 299.1528128)
	wgs84      = newEllipsoid(6378137.0, 298.257223563)
)

// helmert holds position-vector parameters: meters, radians, unitless scale.
type helmert struct {
	dx, dy, dz float64
	rx, ry, rz float64
	m          float64
}

// RDNew implements the double (oblique) stereographic projection used by
// EPSG:28992, plus the datum shift between Bessel 1841 and WGS84.
type RDNew struct {
	ell        ellipsoid
	lat0, lon0 float64
	k0         float64
	fe, fn     float64
	shift      helmert

	// conformal sphere constants
	r, n, c, chi0 float64
}

func NewRDNew() *RDNew {
	p := &RDNew{
		ell:  bessel1841,
		lat0: 52.15616055555555 * deg2rad,
		lon0: 5.38763888888889 * deg2rad,
		k0:   0.9999079,
		fe:   155000,
		fn:   463000,
		shift: helmert{
			dx: 565.2369, dy: 50.0087, dz: 465.658,
			rx: -0.406857 * sec2rad, ry: 0.350732 * sec2rad, rz: -1.87035 * sec2rad,
			m: 1 + 4.0812e-6,
		},
	}
	p.init()
	return p
}

func (p *RDNew) EPSG() int { return 28992 }

func (p *RDNew) init() {
	e2 := p.ell.e2
	e := math.Sqrt(e2)
	sin0 := math.Sin(p.lat0)
	cos0 := math.Cos(p.lat0)

	rho0 := p.ell.a * (1 - e2) / math.Pow(1-e2*sin0*sin0, 1.5)
	nu0 := p.ell.a / math.Sqrt(1-e2*sin0*sin0)
	p.r = math.Sqrt(rho0 * nu0)
	p.n = math.Sqrt(1 + e2*math.Pow(cos0, 4)/(1-e2))

	s1 := (1 + sin0) / (1 - sin0)
	s2 := (1 - e*sin0) / (1 + e*sin0)
	w1 := math.Pow(s1*math.Pow(s2, e), p.n)
	sinChi := (w1 - 1) / (w1 + 1)
	p.c = (p.n + sin0) * (1 - sinChi) / ((p.n - sin0) * (1 + sinChi))
	w2 := p.c * w1
	p.chi0 = math.Asin((w2 - 1) / (w2 + 1))
}

// project maps Bessel geodetic radians to grid meters.
func (p *RDNew) project(lat, lon float64) (float64, float64) {
	e := math.Sqrt(p.ell.e2)
	sinLat := math.Sin(lat)

	lam := p.n*(lon-p.lon0) + p.lon0
	sa := (1 + sinLat) / (1 - sinLat)
	sb := (1 - e*sinLat) / (1 + e*sinLat)
	w := p.c * math.Pow(sa*math.Pow(sb, e), p.n)
	chi := math.Asin((w - 1) / (w + 1))

	dl := lam - p.lon0
	b := 1 + math.Sin(chi)*math.Sin(p.chi0) + math.Cos(chi)*math.Cos(p.chi0)*math.Cos(dl)
	x := p.fe + 2*p.r*p.k0*math.Cos(chi)*math.Sin(dl)/b
	y := p.fn + 2*p.r*p.k0*(math.Sin(chi)*math.Cos(p.chi0)-math.Cos(chi)*math.Sin(p.chi0)*math.Cos(dl))/b
	return x, y
}

// unproject maps grid meters to Bessel geodetic radians.
func (p *RDNew) unproject(x, y float64) (float64, float64) {
	e2 := p.ell.e2
	e := math.Sqrt(e2)
	rk := 2 * p.r * p.k0

	dx := x - p.fe
	dy := y - p.fn
	g := rk * math.Tan(math.Pi/4-p.chi0/2)
	h := 2*rk*math.Tan(p.chi0) + g
	i := math.Atan(dx / (h + dy))
	j := math.Atan(dx/(g-dy)) - i

	chi := p.chi0 + 2*math.Atan((dy-dx*math.Tan(j/2))/rk)
	lam := j + 2*i + p.lon0
	lon := (lam-p.lon0)/p.n + p.lon0

	sinChi := math.Sin(chi)
	psi := 0.5 * math.Log((1+sinChi)/(p.c*(1-sinChi))) / p.n
	lat := 2*math.Atan(math.Exp(psi)) - math.Pi/2
	for range 16 {
		sinLat := math.Sin(lat)
		psiI := math.Log(math.Tan(lat/2+math.Pi/4) * math.Pow((1-e*sinLat)/(1+e*sinLat), e/2))
		next := lat - (psiI-psi)*math.Cos(lat)*(1-e2*sinLat*sinLat)/(1-e2)
		if math.Abs(next-lat) < 1e-14 {
			lat = next
			break
		}
		lat = next
	}
	return lat, lon
}

// ToWGS84 converts RD meters to WGS84 degrees.
func (p *RDNew) ToWGS84(x, y float64) (lon, lat float64) {
	bLat, bLon := p.unproject(x, y)
	gx, gy, gz := p.ell.toGeocentric(bLat, bLon, 0)
	wx, wy, wz := p.shift.forward(gx, gy, gz)
	wLat, wLon := wgs84.toGeodetic(wx, wy, wz)
	return wLon * rad2deg, wLat * rad2deg
}

// FromWGS84 converts WGS84 degrees to RD meters.
func (p *RDNew) FromWGS84(lon, lat float64) (x, y float64) {
	wx, wy, wz := wgs84.toGeocentric(lat*deg2rad, lon*deg2rad, 0)
	gx, gy, gz := p.shift.inverse(wx, wy, wz)
	bLat, bLon := p.ell.toGeodetic(gx, gy, gz)
	return p.project(bLat, bLon)
}

func (el ellipsoid) toGeocentric(lat, lon, h float64) (float64, float64, float64) {
	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := el.a / math.Sqrt(1-el.e2*sinLat*sinLat)
	return (n + h) * cosLat * math.Cos(lon),
		(n + h) * cosLat * math.Sin(lon),
		(n*(1-el.e2) + h) * sinLat
}

func (el ellipsoid) toGeodetic(x, y, z float64) (lat, lon float64) {
	lon = math.Atan2(y, x)
	p := math.Hypot(x, y)
	lat = math.Atan2(z, p*(1-el.e2))
	for range 10 {
		sinLat := math.Sin(lat)
		n := el.a / math.Sqrt(1-el.e2*sinLat*sinLat)
		h := p/math.Cos(lat) - n
		next := math.Atan2(z, p*(1-el.e2*n/(n+h)))
		if math.Abs(next-lat) < 1e-15 {
			return next, lon
		}
		lat = next
	}
	return lat, lon
}

func (t helmert) forward(x, y, z float64) (float64, float64, float64) {
	return t.m*(x-t.rz*y+t.ry*z) + t.dx,
		t.m*(t.rz*x+y-t.rx*z) + t.dy,
		t.m*(-t.ry*x+t.rx*y+z) + t.dz
}

func (t helmert) inverse(x, y, z float64) (float64, float64, float64) {
	xt := (x - t.dx) / t.m
	yt := (y - t.dy) / t.m
	zt := (z - t.dz) / t.m
	return xt + t.rz*yt - t.ry*zt,
		-t.rz*xt + yt + t.rx*zt,
		t.ry*xt - t.rx*yt + zt
}
