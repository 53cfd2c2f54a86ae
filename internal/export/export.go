// Package export writes harvested records to tabular and geographic files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/xuri/excelize/v2"

	"github.com/rendis/mapharvest/internal/model"
)

// Columns is the flattened record layout shared by CSV and XLSX output.
var Columns = []string{
	"name", "address", "url", "phone_number", "email",
	"reviews_count", "reviews_average", "social_media", "business_hours", "categories",
	"lat", "lng", "google_url", "query",
}

var unsafeRe = regexp.MustCompile(`[^a-z0-9]+`)

// BaseName builds "<query>_<location>_<timestamp>" safe for any filesystem.
func BaseName(query, location string, ts time.Time) string {
	var parts []string
	for _, p := range []string{query, location} {
		if s := strings.Trim(unsafeRe.ReplaceAllString(strings.ToLower(p), "_"), "_"); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "mapharvest")
	}
	return strings.Join(parts, "_") + "_" + ts.Format("20060102_150405")
}

// Row flattens b in Columns order. Social profiles are "platform: url" pairs
// sorted by platform; categories are joined with ", ".
func Row(b model.Business) []string {
	var lat, lng string
	if b.HasLocation() {
		lat = strconv.FormatFloat(b.Lat, 'f', 6, 64)
		lng = strconv.FormatFloat(b.Lng, 'f', 6, 64)
	}
	return []string{
		b.Name,
		b.Address,
		b.URL,
		b.PhoneNumber,
		b.Email,
		strconv.Itoa(b.ReviewsCount),
		strconv.FormatFloat(b.ReviewsAverage, 'f', 1, 64),
		socialString(b.SocialMedia),
		b.BusinessHours,
		strings.Join(b.Categories, ", "),
		lat,
		lng,
		b.GoogleURL,
		b.Query,
	}
}

func socialString(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+": "+m[k])
	}
	return strings.Join(pairs, "; ")
}

func WriteCSV(path string, businesses []model.Business) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, b := range businesses {
		if err := w.Write(Row(b)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return f.Close()
}

func WriteXLSX(path string, businesses []model.Business) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Businesses"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for i, h := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for r, b := range businesses {
		for c, v := range Row(b) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	for i := 1; i <= len(Columns); i++ {
		col, _ := excelize.ColumnNumberToName(i)
		_ = f.SetColWidth(sheet, col, col, 28)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving xlsx: %w", err)
	}
	return nil
}

// WriteGeoJSON writes every located business as a Point feature.
func WriteGeoJSON(path string, businesses []model.Business) (int, error) {
	fc := geojson.NewFeatureCollection()
	var bound orb.Bound
	for _, b := range businesses {
		if !b.HasLocation() {
			continue
		}
		p := orb.Point{b.Lng, b.Lat}
		if len(fc.Features) == 0 {
			bound = p.Bound()
		} else {
			bound = bound.Extend(p)
		}
		feat := geojson.NewFeature(p)
		feat.Properties["name"] = b.Name
		feat.Properties["address"] = b.Address
		feat.Properties["phone_number"] = b.PhoneNumber
		feat.Properties["url"] = b.URL
		feat.Properties["email"] = b.Email
		feat.Properties["reviews_count"] = b.ReviewsCount
		feat.Properties["reviews_average"] = b.ReviewsAverage
		feat.Properties["categories"] = b.Categories
		feat.Properties["google_url"] = b.GoogleURL
		fc.Append(feat)
	}
	if len(fc.Features) > 0 {
		fc.BBox = geojson.NewBBox(bound)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("encoding geojson: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing geojson: %w", err)
	}
	return len(fc.Features), nil
}
