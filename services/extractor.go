package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"car-listings-toolkit/models"
)

var (
	yearSuffixRegexp = regexp.MustCompile(`(\d{4})$`)
	powerCVRegexp    = regexp.MustCompile(`(?i)\((\d+)\s*CV\)`)
	firstIntRegexp   = regexp.MustCompile(`(\d+)`)
)

// highlightFields maps a cleaned highlight label to the field it fills.
var highlightFields = map[string]string{
	"condicion":     models.FieldCondition,
	"carroceria":    models.FieldBodyType,
	"kilometros":    models.FieldKilometros,
	"combustible":   models.FieldFuelType,
	"eficienciaco2": "co2_class_combined",
	"cambio":        models.FieldTransmission,
	"traccion":      models.FieldTraction,
	"plazas":        models.FieldSeats,
}

var specFields = map[string]string{
	"unicopropietario": "unique_owner",
	"itvvalidahasta":   "itv_valid_until",
	"tipodeiva":        "iva_type",
	"numerodellaves":   "number_of_keys",
}

var equipmentPanels = []string{"exterior", "interior", "confort", "seguridad", "extras"}

// Extract parses a dealer detail page into a RawListing. Fields that are not
// present on the page are left out of the result.
func Extract(html, originalURL string, images []string) (*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extractor: parse html: %w", err)
	}

	fields := make(map[string]string, len(models.KnownFields))
	for _, f := range models.KnownFields {
		fields[f] = models.NotAvailable
	}

	extractHeader(doc, fields)
	extractPrices(doc, fields)
	extractHighlights(doc, fields)
	extractSpecs(doc, fields)
	extractEquipment(doc, fields)

	for k, v := range fields {
		if v == models.NotAvailable {
			delete(fields, k)
		}
	}

	if images == nil {
		images = []string{}
	}
	return &models.RawListing{
		OriginalURL: originalURL,
		GUID:        GUIDFromURL(originalURL),
		Fields:      fields,
		Images:      images,
		ScrapedAt:   time.Now(),
	}, nil
}

// FailedListing is the record kept for a page that could not be scraped.
func FailedListing(originalURL string, err error) *models.RawListing {
	return &models.RawListing{
		OriginalURL: originalURL,
		GUID:        GUIDFromURL(originalURL),
		Fields:      map[string]string{},
		Images:      []string{},
		Error:       err.Error(),
		ScrapedAt:   time.Now(),
	}
}

func extractHeader(doc *goquery.Document, fields map[string]string) {
	makeModel := doc.Find("span.stock-vehicle-detail__header--make-model").First()
	if makeModel.Length() > 0 {
		words := strings.Fields(makeModel.Text())
		if len(words) > 0 {
			fields[models.FieldBrand] = words[0]
		}
		if len(words) > 1 {
			fields[models.FieldModel] = strings.Join(words[1:], " ")
		}
	}

	trim := doc.Find("span.stock-vehicle-detail__header--trim").First()
	if trim.Length() == 0 {
		return
	}
	trimText := CleanValue(trim.Text())
	if fields[models.FieldModel] != models.NotAvailable {
		fields[models.FieldModel] = strings.TrimSpace(fields[models.FieldModel] + " " + trimText)
	} else {
		fields[models.FieldModel] = trimText
	}
}

func extractPrices(doc *goquery.Document, fields map[string]string) {
	wrapper := doc.Find("div.stock-vehicle-detail__header--price-wrapper").First()
	if wrapper.Length() == 0 {
		return
	}
	if cash := wrapper.Find("div.price-financed--header__cash p.price__value").First(); cash.Length() > 0 {
		fields[models.FieldPriceCash] = CleanValue(cash.Text())
	}
	if financed := wrapper.Find("div.price-financed--header__financed p.price__value").First(); financed.Length() > 0 {
		fields[models.FieldPriceFinanced] = CleanValue(financed.Text())
	}
}

func extractHighlights(doc *goquery.Document, fields map[string]string) {
	items := doc.Find(`ul.stock-vehicle-highlights-list li[class*="stock-vehicle-highlights-list__item"]`)
	items.Each(func(_ int, item *goquery.Selection) {
		label := item.Find("span.stock-vehicle-highlights-list__item-label").First()
		value := item.Find("span.stock-vehicle-highlights-list__item-value").First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}

		key := CleanLabel(label.Text())
		raw := strings.TrimSpace(value.Text())

		switch key {
		case "matriculacion":
			if m := yearSuffixRegexp.FindStringSubmatch(raw); m != nil {
				fields[models.FieldRegistrationYear] = m[1]
			} else {
				fields[models.FieldRegistrationYear] = CleanValue(raw)
			}
		case "potencia":
			fields[models.FieldEngineCV] = parsePower(raw)
		default:
			if field, ok := highlightFields[key]; ok {
				fields[field] = CleanValue(raw)
			}
		}
	})
}

// parsePower prefers the "(NNN CV)" figure and falls back to the first integer.
func parsePower(raw string) string {
	if m := powerCVRegexp.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	cleaned := CleanValue(raw)
	if m := firstIntRegexp.FindStringSubmatch(cleaned); m != nil {
		return m[1]
	}
	return cleaned
}

func extractSpecs(doc *goquery.Document, fields map[string]string) {
	doc.Find("div.stock-vehicle-detail__specs--row").Each(func(_ int, row *goquery.Selection) {
		label := row.Find("div.stock-vehicle-detail__specs--label").First()
		value := row.Find("div.stock-vehicle-detail__specs--value").First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		key := CleanLabel(strings.ReplaceAll(label.Text(), ":", ""))
		if field, ok := specFields[key]; ok {
			fields[field] = CleanValue(value.Text())
		}
	})
}

func extractEquipment(doc *goquery.Document, fields map[string]string) {
	wrapper := doc.Find("div.elektra-tabs__content-wrapper").First()
	if wrapper.Length() == 0 {
		return
	}
	for _, category := range equipmentPanels {
		panel := wrapper.Find("div#panel-equipamiento-" + category).First()
		if panel.Length() == 0 {
			continue
		}
		var items []string
		panel.Find("p.text__body-default").Each(func(_ int, p *goquery.Selection) {
			items = append(items, CleanValue(p.Text()))
		})
		if len(items) > 0 {
			fields["details_"+category] = strings.Join(items, "; ")
		}
	}
}

// CarouselImages returns the gallery image URLs already present in static
// markup, in document order and without duplicates. It serves pages fetched
// without a browser, where the carousel cannot be clicked through.
func CarouselImages(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "data:") {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	doc.Find("[data-lg-src], [data-src], img.lg-object.lg-image").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"data-lg-src", "data-src", "src"} {
			if v, ok := s.Attr(attr); ok && v != "" {
				add(v)
				return
			}
		}
	})
	return urls
}
