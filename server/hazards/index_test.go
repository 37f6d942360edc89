package hazards

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

const (
	testLat = -5.8
	testLon = -35.2
)

func writeCSV(t *testing.T, dir, name string, header []string, rows [][]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func accidentRow(lat, lon string) []string {
	return []string{"2024-03-01", "14:00", "BR-101", "120", "Natal", "colisao", "grave", lat, lon}
}

func fineRow(lat, lon string) []string {
	return []string{"2024-03-01", "14:00", "BR-101", "120", "Natal", "excesso de velocidade", "art. 218", lat, lon}
}

// loadTestIndex builds an index with accidents at ~300 m and ~800 m north of
// the test position, one coordinate-less accident row, and a fine at ~300 m.
func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()

	accPath := writeCSV(t, dir, "accidents.csv", accidentColumns, [][]string{
		accidentRow("-5.7973", "-35.2"), // ~300 m
		accidentRow("-5.7928", "-35.2"), // ~800 m
		accidentRow("", ""),             // dropped at load
	})
	finePath := writeCSV(t, dir, "fines.csv", fineColumns, [][]string{
		fineRow("-5.7973", "-35.2"), // ~300 m
	})

	ix, err := Load(accPath, finePath, nil)
	require.NoError(t, err)
	return ix
}

func TestLoadRejectsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	accPath := writeCSV(t, dir, "bad.csv", []string{"latitude", "longitude"}, nil)
	finePath := writeCSV(t, dir, "fines.csv", fineColumns, nil)

	_, err := Load(accPath, finePath, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required column")
}

func TestLoadDropsRowsWithoutCoordinates(t *testing.T) {
	ix := loadTestIndex(t)

	accidents, _ := ix.Query(testLat, testLon, 50000)
	assert.Len(t, accidents, 2, "the coordinate-less row must not survive load")
}

func TestQueryRadiusMembershipAndOrder(t *testing.T) {
	ix := loadTestIndex(t)

	accidents, fines := ix.Query(testLat, testLon, 500)
	require.Len(t, accidents, 1)
	require.Len(t, fines, 1)
	assert.InDelta(t, 300, accidents[0].DistanceM, 5)

	accidents, _ = ix.Query(testLat, testLon, 1000)
	require.Len(t, accidents, 2)
	assert.Less(t, accidents[0].DistanceM, accidents[1].DistanceM)

	accidents, fines = ix.Query(testLat, testLon, 100)
	assert.Empty(t, accidents)
	assert.Empty(t, fines)
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is R*pi/180 meters.
	d := Haversine(0, 0, 1, 0)
	assert.InDelta(t, 111194.9, d, 1.0)

	assert.Zero(t, Haversine(testLat, testLon, testLat, testLon))
}

func TestGridAndLinearStrategiesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rows := make([][]string, 0, 300)
	for i := 0; i < 300; i++ {
		lat := testLat + (rng.Float64()-0.5)*0.1
		lon := testLon + (rng.Float64()-0.5)*0.1
		rows = append(rows, accidentRow(
			fmt.Sprintf("%.6f", lat),
			fmt.Sprintf("%.6f", lon)))
	}

	dir := t.TempDir()
	accPath := writeCSV(t, dir, "accidents.csv", accidentColumns, rows)
	finePath := writeCSV(t, dir, "fines.csv", fineColumns, nil)

	ix, err := Load(accPath, finePath, nil)
	require.NoError(t, err)

	for _, radius := range []float64{200, 500, 1000, 3000} {
		for i := 0; i < 20; i++ {
			lat := testLat + (rng.Float64()-0.5)*0.1
			lon := testLon + (rng.Float64()-0.5)*0.1

			grid := ix.accidents.queryGrid(lat, lon, radius)
			linear := ix.accidents.queryLinear(lat, lon, radius)

			require.Equal(t, len(linear), len(grid),
				"strategies disagree on membership at (%f, %f) r=%f", lat, lon, radius)
			for j := range linear {
				assert.Equal(t, linear[j].Point, grid[j].Point)
				assert.Equal(t, linear[j].DistanceM, grid[j].DistanceM)
			}
		}
	}
}

func TestQueryNeverExceedsRadius(t *testing.T) {
	ix := loadTestIndex(t)

	for _, radius := range []float64{100, 301, 500, 900} {
		accidents, fines := ix.Query(testLat, testLon, radius)
		for _, m := range append(accidents, fines...) {
			assert.LessOrEqual(t, m.DistanceM, radius)
		}
	}
}

func TestNearbyAlertsOnePerCategory(t *testing.T) {
	ix := loadTestIndex(t)

	alerts := ix.NearbyAlerts(testLat, testLon, 1000)
	require.Len(t, alerts, 2, "two accidents in range still yield one accident alert")

	assert.Equal(t, models.AlertAccident, alerts[0].Type)
	assert.Equal(t, AccidentConfidence, alerts[0].Confidence)
	assert.Equal(t, models.DirectionAhead, alerts[0].Direction)
	assert.InDelta(t, 300, alerts[0].DistanceM, 5)

	assert.Equal(t, models.AlertFine, alerts[1].Type)
	assert.Equal(t, FineConfidence, alerts[1].Confidence)
}

func TestNearbyAlertsEmptyWhenFar(t *testing.T) {
	ix := loadTestIndex(t)

	alerts := ix.NearbyAlerts(10.0, 10.0, 500)
	assert.Empty(t, alerts)

	var nilIx *Index
	assert.Nil(t, nilIx.NearbyAlerts(testLat, testLon, 500))
}
