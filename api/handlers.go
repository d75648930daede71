package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"car-listings-toolkit/models"
	"car-listings-toolkit/services"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// Source columns of the listings JSON.
const (
	colBrand       = "Marca"
	colModel       = "Modelo"
	colPriceCash   = "Precio Contado"
	colPriceFin    = "Precio Financiado"
	colKilometers  = "Kilómetros"
	colRegYear     = "Año Matriculación"
	colDoors       = "Puertas"
	colDealer      = "Concesionario"
	colFuel        = "Tipo Combustible"
	colGearbox     = "Transmisión"
	colLocation    = "Ubicación Concesionario"
	colProvince    = "Provincia"
	colAdType      = "Tipo de Anuncio"
	colVehicleType = "Clase de Vehículo"
	colBody        = "Carrocería"
	colWarranty    = "Garantía Oficial"
	colDescription = "Descripción"
	colURL         = "URL Anuncio"
	colTours       = "Tours"
)

type listingSummary struct {
	GUID         any      `json:"guid_anuncio"`
	Brand        any      `json:"marca"`
	Model        any      `json:"modelo"`
	Price        *float64 `json:"precio"`
	Kilometers   *float64 `json:"kilometros"`
	Year         *int64   `json:"año"`
	Dealer       any      `json:"concesionario"`
	ToursURL     any      `json:"tours_url"`
	ThumbnailURL *string  `json:"thumbnail_url"`
}

type listingPage struct {
	Listings      []listingSummary `json:"listings"`
	Page          int              `json:"page"`
	Limit         int              `json:"limit"`
	TotalListings int              `json:"total_listings"`
}

type imageRef struct {
	URL string `json:"api_image_url"`
}

type listingDetail struct {
	GUID           any        `json:"guid_anuncio"`
	Brand          any        `json:"marca"`
	Model          any        `json:"modelo"`
	Price          *float64   `json:"precio"`
	FinancedPrice  *float64   `json:"precio_financiado_display"`
	Year           *int64     `json:"año"`
	Kilometers     *float64   `json:"kilometros"`
	Doors          *int64     `json:"puertas"`
	Dealer         any        `json:"concesionario"`
	EngineType     any        `json:"tipo_de_motor"`
	Gearbox        any        `json:"cambio"`
	Location       any        `json:"localidad"`
	Province       any        `json:"provincia"`
	AdType         any        `json:"tipo_de_anuncio"`
	VehicleType    any        `json:"clase_de_vehículo"`
	Fuel           any        `json:"combustible"`
	Body           any        `json:"carrocería"`
	Warranty       any        `json:"garantia"`
	Description    any        `json:"descripción"`
	URL            any        `json:"url_anuncio"`
	ToursURL       any        `json:"tours_url"`
	Images         []imageRef `json:"images"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Car listings API running. See /api/listings for the data.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	page := positiveQuery(r, "page", defaultPage)
	limit := positiveQuery(r, "limit", defaultLimit)

	if s.store.Len() == 0 {
		writeJSON(w, http.StatusInternalServerError, errorBody{"No listings data available on server"})
		return
	}

	items := s.store.Page(page, limit)
	resp := listingPage{
		Listings:      make([]listingSummary, 0, len(items)),
		Page:          page,
		Limit:         limit,
		TotalListings: s.store.Len(),
	}
	for i := range items {
		resp.Listings = append(resp.Listings, summarize(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	l, ok := s.store.Get(guid)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{"Listing not found"})
		return
	}
	writeJSON(w, http.StatusOK, detail(guid, l))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	guid, filename := r.PathValue("guid"), r.PathValue("filename")
	if !safeSegment(guid) || !safeSegment(filename) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	dir := filepath.Join(s.imageDir, guid)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		s.logger.Warn("Image directory not found: %s", dir)
		http.Error(w, "Directory not found", http.StatusNotFound)
		return
	}

	file := filepath.Join(dir, filename)
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("Stat %s: %v", file, err)
		}
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, file)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	a := s.store.Analysis()
	writeJSON(w, http.StatusOK, map[string]any{
		"Total Imágenes Procesadas": nonZeroOrNA(a, "total_imagenes_descargadas"),
		"Promedio Peso (KB)":        nonZeroOrNA(a, "promedio_peso_kb"),
		"Promedio Dimensiones (px)": textOrNA(a, "promedio_dimensiones_px"),
	})
}

// safeSegment accepts a single path element that cannot leave its directory.
func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && filepath.IsLocal(s)
}

func positiveQuery(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func summarize(l *models.LocalListing) listingSummary {
	row := l.Row
	out := listingSummary{
		GUID:       row["guid_anuncio"],
		Brand:      row[colBrand],
		Model:      row[colModel],
		Price:      number(row[colPriceCash]),
		Kilometers: number(row[colKilometers]),
		Year:       integer(row[colRegYear]),
		Dealer:     row[colDealer],
		ToursURL:   toursURL(row[colTours]),
	}
	if len(l.DownloadedImages) > 0 {
		u := imageURL(l.GUID(), l.DownloadedImages[0])
		out.ThumbnailURL = &u
	}
	return out
}

func detail(guid string, l *models.LocalListing) listingDetail {
	row := l.Row
	out := listingDetail{
		GUID:          row["guid_anuncio"],
		Brand:         row[colBrand],
		Model:         row[colModel],
		Price:         number(row[colPriceCash]),
		FinancedPrice: number(row[colPriceFin]),
		Year:          integer(row[colRegYear]),
		Kilometers:    number(row[colKilometers]),
		Doors:         integer(row[colDoors]),
		Dealer:        text(row[colDealer]),
		EngineType:    text(row[colFuel]),
		Gearbox:       text(row[colGearbox]),
		Location:      text(row[colLocation]),
		Province:      text(valueOr(row, colProvince, models.NotAvailable)),
		AdType:        text(valueOr(row, colAdType, "Coche de ocasión")),
		VehicleType:   text(valueOr(row, colVehicleType, "Turismo")),
		Fuel:          text(row[colFuel]),
		Body:          text(row[colBody]),
		Warranty:      text(row[colWarranty]),
		Description:   text(row[colDescription]),
		URL:           text(row[colURL]),
		ToursURL:      toursURL(row[colTours]),
		Images:        make([]imageRef, 0, len(l.DownloadedImages)),
	}
	for _, img := range l.DownloadedImages {
		out.Images = append(out.Images, imageRef{URL: imageURL(guid, img)})
	}
	return out
}

// imageURL handles paths written on either Windows or Unix.
func imageURL(guid string, img models.ImageMeta) string {
	name := path.Base(strings.ReplaceAll(img.LocalPath, `\`, "/"))
	return "/api/images/" + guid + "/" + name
}

func number(v any) *float64 {
	f, ok := services.ParseNumber(v)
	if !ok {
		return nil
	}
	return &f
}

func integer(v any) *int64 {
	n, ok := services.ParseInt(v)
	if !ok {
		return nil
	}
	return &n
}

func valueOr(row map[string]any, key string, fallback any) any {
	if v, ok := row[key]; ok {
		return v
	}
	return fallback
}

// text maps blank strings to N/A. Non-string values pass through.
func text(v any) any {
	if s, ok := v.(string); ok && services.IsBlank(s) {
		return models.NotAvailable
	}
	return v
}

func toursURL(v any) any {
	if s, ok := v.(string); ok && services.IsBlank(s) {
		return nil
	}
	return v
}

func nonZeroOrNA(m map[string]any, key string) any {
	v, ok := m[key]
	if !ok || v == nil {
		return models.NotAvailable
	}
	if f, isNum := v.(float64); isNum && f == 0 {
		return models.NotAvailable
	}
	return v
}

func textOrNA(m map[string]any, key string) any {
	v, ok := m[key]
	if !ok || v == nil {
		return models.NotAvailable
	}
	return text(v)
}
