package geo

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

// Projection converts planar coordinates of one coordinate reference
// system into WGS84 [lon, lat] degrees.
type Projection interface {
	Name() string
	ToWGS84(p Point) Point
}

const wgs84Code = 4326

// Legacy identifiers of spherical web mercator.
var aliases = map[int]int{
	900913: 3857,
	3785:   3857,
}

var (
	epsgRepo  = wgs84.EPSG()
	epsgCodes = sortedCodes()
)

func sortedCodes() []int {
	codes := slices.Clone(epsgRepo.Codes())
	slices.Sort(codes)
	return codes
}

// ParseProjection resolves an EPSG identifier such as "EPSG:3857",
// "EPSG:32633" or "+init=epsg:25832". An empty id yields (nil, nil): no
// reprojection.
func ParseProjection(id string) (Projection, error) {
	s := strings.ToUpper(strings.TrimSpace(id))
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "+INIT=")
	if s == "WGS84" {
		return identity{}, nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(s, "EPSG:"))
	if err != nil {
		return nil, fmt.Errorf("unsupported projection %q", id)
	}
	if code == wgs84Code {
		return identity{}, nil
	}

	lookup := code
	if c, ok := aliases[code]; ok {
		lookup = c
	}
	if _, found := slices.BinarySearch(epsgCodes, lookup); !found {
		return nil, fmt.Errorf("unsupported projection %q", id)
	}

	return epsg{
		code: code,
		fn:   epsgRepo.Transform(lookup, wgs84Code),
	}, nil
}

type identity struct{}

func (identity) Name() string          { return "EPSG:4326" }
func (identity) ToWGS84(p Point) Point { return p }

// epsg reprojects from one registered reference system to WGS84.
type epsg struct {
	code int
	fn   wgs84.Func
}

func (e epsg) Name() string { return "EPSG:" + strconv.Itoa(e.code) }

func (e epsg) ToWGS84(p Point) Point {
	lon, lat, _ := e.fn(p[0], p[1], 0)
	return Point{lon, lat}
}
