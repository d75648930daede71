package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NotAvailable is the placeholder used by the dealer pages and the input CSVs
// for a missing value.
const NotAvailable = "N/A"

// Canonical field names produced by the field extractor. The order of
// LeadingFields is the column order of the scraper CSV.
const (
	FieldBrand            = "brand"
	FieldModel            = "model"
	FieldPriceCash        = "price_cash"
	FieldPriceFinanced    = "price_financed"
	FieldKilometros       = "kilometros"
	FieldRegistrationYear = "registration_year"
	FieldFuelType         = "fuel_type"
	FieldEngineCV         = "engine_cv"
	FieldTransmission     = "transmission"
	FieldCondition        = "condition"
	FieldBodyType         = "body_type"
	FieldTraction         = "traction"
	FieldSeats            = "seats"
)

// LeadingFields are written first, in this order, by the scraper CSV writer.
var LeadingFields = []string{
	FieldBrand, FieldModel, FieldPriceCash, FieldPriceFinanced,
	FieldKilometros, FieldRegistrationYear, FieldFuelType, FieldEngineCV,
	FieldTransmission, FieldCondition, FieldBodyType, FieldTraction, FieldSeats,
}

// KnownFields lists every field the extractor initialises before parsing.
var KnownFields = append(append([]string{}, LeadingFields...),
	"official_warranty", "dealer_location", "unique_owner", "itv_valid_until",
	"iva_type", "number_of_keys", "co2_class_combined", "co2_combined_grams",
	"environmental_label", "demo_status", "engine_displacement", "num_cylinders",
	"num_gears", "num_doors", "exterior_color", "color_type",
	"details_exterior", "details_interior", "details_confort",
	"details_seguridad", "details_extras",
)

// RawListing is one scraped detail page. Fields only holds values that were
// actually found on the page.
type RawListing struct {
	OriginalURL string
	GUID        string
	Fields      map[string]string
	Images      []string
	Error       string
	ScrapedAt   time.Time
}

// Field returns the named field or "" when it was not extracted.
func (r *RawListing) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// ImageMeta describes one image persisted by the downloader.
type ImageMeta struct {
	OriginalURL string `json:"original_url"`
	LocalPath   string `json:"local_path"`
	SizeBytes   int64  `json:"size_bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// LocalListing is one entry of the listings JSON served by the API: the
// original CSV row plus the images that were stored locally.
type LocalListing struct {
	Row              map[string]any
	DownloadedImages []ImageMeta
}

// GUID returns the listing identifier column as text. Numeric ids, as some
// CSV exports write them, are formatted without exponent or trailing zeros.
func (l *LocalListing) GUID() string {
	switch v := l.Row["guid_anuncio"].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// AnalysisSummary is the aggregate report written next to the listings JSON.
type AnalysisSummary struct {
	GeneratedAt          string              `json:"fecha_generacion"`
	TotalListings        int                 `json:"total_coches_procesados"`
	SuccessfulListings   int                 `json:"coches_exitosos"`
	FailedListings       int                 `json:"coches_fallidos"`
	TotalImages          int                 `json:"total_imagenes_descargadas"`
	AvgImagesPerListing  float64             `json:"promedio_imagenes_por_coche"`
	AvgSizeKB            float64             `json:"promedio_peso_kb"`
	AvgDimensions        string              `json:"promedio_dimensiones_px"`
	DownloadErrorsByGUID map[string][]string `json:"errores_descarga_por_anuncio"`
}

// MarshalJSON flattens the row and appends the downloaded_images key.
func (l LocalListing) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(l.Row)+1)
	for k, v := range l.Row {
		out[k] = v
	}
	images := l.DownloadedImages
	if images == nil {
		images = []ImageMeta{}
	}
	out["downloaded_images"] = images
	return json.Marshal(out)
}

// UnmarshalJSON splits downloaded_images from the remaining row columns.
// Entries of downloaded_images that are not objects are skipped.
func (l *LocalListing) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	l.Row = make(map[string]any, len(raw))
	l.DownloadedImages = nil
	for k, v := range raw {
		if k == "downloaded_images" {
			var items []json.RawMessage
			if err := json.Unmarshal(v, &items); err != nil {
				continue
			}
			for _, item := range items {
				var img ImageMeta
				if err := json.Unmarshal(item, &img); err == nil && img.LocalPath != "" {
					l.DownloadedImages = append(l.DownloadedImages, img)
				}
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("column %q: %w", k, err)
		}
		l.Row[k] = val
	}
	return nil
}
