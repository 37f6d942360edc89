package hazards

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// Category-fixed alert confidences.
const (
	AccidentConfidence = 0.85
	FineConfidence     = 0.75
)

// Required columns per dataset. Rows missing coordinates are dropped at load
// time; the remaining columns are carried opaquely on each point.
var (
	accidentColumns = []string{"data", "hora", "rodovia", "km", "municipio", "tipo", "gravidade", "latitude", "longitude"}
	fineColumns     = []string{"data", "hora", "rodovia", "km", "municipio", "descricao", "enquadramento", "latitude", "longitude"}
)

// HazardPoint is one georeferenced accident or fine record.
type HazardPoint struct {
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Category  models.AlertType  `json:"category"`
	Attrs     map[string]string `json:"attrs"`
}

// Match pairs a hazard point with its exact distance from a query position.
type Match struct {
	Point     HazardPoint `json:"point"`
	DistanceM float64     `json:"distance_m"`
}

type dataset struct {
	points []HazardPoint
	grid   *cellGrid
}

// Index answers radius queries against the accident and fine datasets. Data
// is immutable after Load, so the index is safe for concurrent readers.
type Index struct {
	accidents dataset
	fines     dataset
	logger    *zap.Logger
}

// Load parses both CSV datasets and builds the search grids. The files are
// read once; there is no incremental insert or delete.
func Load(accidentPath, finePath string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	acc, err := loadCSV(accidentPath, accidentColumns, models.AlertAccident, logger)
	if err != nil {
		return nil, fmt.Errorf("load accidents: %w", err)
	}
	fin, err := loadCSV(finePath, fineColumns, models.AlertFine, logger)
	if err != nil {
		return nil, fmt.Errorf("load fines: %w", err)
	}

	ix := &Index{
		accidents: dataset{points: acc, grid: newCellGrid(acc, defaultCellDeg)},
		fines:     dataset{points: fin, grid: newCellGrid(fin, defaultCellDeg)},
		logger:    logger,
	}
	logger.Info("hazard index loaded",
		zap.Int("accidents", len(acc)),
		zap.Int("fines", len(fin)))
	return ix, nil
}

func loadCSV(path string, columns []string, category models.AlertType, logger *zap.Logger) ([]HazardPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}
	for _, name := range columns {
		if _, ok := colIdx[name]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, name)
		}
	}

	var points []HazardPoint
	dropped := 0
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		lat, latErr := strconv.ParseFloat(field(rec, colIdx["latitude"]), 64)
		lon, lonErr := strconv.ParseFloat(field(rec, colIdx["longitude"]), 64)
		if latErr != nil || lonErr != nil {
			dropped++
			continue
		}
		attrs := make(map[string]string, len(columns)-2)
		for _, name := range columns {
			if name == "latitude" || name == "longitude" {
				continue
			}
			attrs[name] = field(rec, colIdx[name])
		}
		points = append(points, HazardPoint{
			Latitude:  lat,
			Longitude: lon,
			Category:  category,
			Attrs:     attrs,
		})
	}
	if dropped > 0 {
		logger.Warn("dropped rows without coordinates",
			zap.String("path", path),
			zap.Int("dropped", dropped))
	}
	return points, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// Query returns accident and fine matches within radiusM of the position,
// each list sorted ascending by exact haversine distance.
func (ix *Index) Query(lat, lon, radiusM float64) (accidents, fines []Match) {
	if ix == nil {
		return nil, nil
	}
	return ix.accidents.queryGrid(lat, lon, radiusM), ix.fines.queryGrid(lat, lon, radiusM)
}

// queryGrid is the accelerated strategy: grid cells prefilter candidates,
// exact distances decide membership and order.
func (d *dataset) queryGrid(lat, lon, radiusM float64) []Match {
	latMin, latMax, lonMin, lonMax := degreeBBox(lat, lon, radiusM)
	cand := d.grid.candidates(latMin, latMax, lonMin, lonMax)
	sort.Ints(cand)

	var out []Match
	for _, i := range cand {
		p := d.points[i]
		if p.Latitude < latMin || p.Latitude > latMax || p.Longitude < lonMin || p.Longitude > lonMax {
			continue
		}
		if dist := Haversine(lat, lon, p.Latitude, p.Longitude); dist <= radiusM {
			out = append(out, Match{Point: p, DistanceM: dist})
		}
	}
	sortMatches(out)
	return out
}

// queryLinear is the reference strategy: bounding-box filter over the full
// point slice, then exact haversine distances.
func (d *dataset) queryLinear(lat, lon, radiusM float64) []Match {
	latMin, latMax, lonMin, lonMax := degreeBBox(lat, lon, radiusM)

	var out []Match
	for _, p := range d.points {
		if p.Latitude < latMin || p.Latitude > latMax || p.Longitude < lonMin || p.Longitude > lonMax {
			continue
		}
		if dist := Haversine(lat, lon, p.Latitude, p.Longitude); dist <= radiusM {
			out = append(out, Match{Point: p, DistanceM: dist})
		}
	}
	sortMatches(out)
	return out
}

// sortMatches orders by distance; the incoming slice is in dataset order, so
// the stable sort makes ties deterministic across both strategies.
func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].DistanceM < m[j].DistanceM })
}

// NearbyAlerts returns at most one alert per category: the nearest accident
// and the nearest fine within radiusM, if any. Direction derivation from
// vehicle heading is not implemented; alerts always report "ahead".
func (ix *Index) NearbyAlerts(lat, lon, radiusM float64) []models.Alert {
	if ix == nil {
		return nil
	}
	accidents, fines := ix.Query(lat, lon, radiusM)

	var out []models.Alert
	if len(accidents) > 0 {
		out = append(out, models.Alert{
			Type:       models.AlertAccident,
			DistanceM:  int(accidents[0].DistanceM),
			Direction:  models.DirectionAhead,
			Confidence: AccidentConfidence,
		})
	}
	if len(fines) > 0 {
		out = append(out, models.Alert{
			Type:       models.AlertFine,
			DistanceM:  int(fines[0].DistanceM),
			Direction:  models.DirectionAhead,
			Confidence: FineConfidence,
		})
	}
	return out
}
