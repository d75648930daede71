package services

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"car-listings-toolkit/models"
)

// Histogram bands used for clipping: bins [0, shadowBins) are shadows and
// bins [highlightStart, 256) are highlights.
var (
	shadowBins     = int(256 * 0.005)
	highlightStart = int(256 * 0.995)
)

const noHDRReason = "No HDR according to all criteria."

// DetectFunc classifies one local image file.
type DetectFunc func(path string) models.HDRVerdict

// ImageStats are the pixel statistics the HDR criteria look at.
type ImageStats struct {
	Entropy    float64
	Shadows    float64
	Highlights float64
	Saturation float64
}

// exifInfo is what the detector reads from the EXIF block.
type exifInfo struct {
	ricohZ1      bool
	exposureBias *float64
	exposureTime *float64
	iso          *int
	reasons      []string
	errs         []string
}

func (e *exifInfo) errorText() string { return strings.Join(e.errs, "; ") }

// DetectHDR decides whether a JPEG looks like an HDR capture, combining EXIF
// hints with histogram statistics. The reason lists every criterion that
// matched.
func DetectHDR(path string) models.HDRVerdict {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".jpg" && ext != ".jpeg" {
		return models.HDRVerdict{Reason: "not a JPG or file not found"}
	}
	if _, err := os.Stat(path); err != nil {
		return models.HDRVerdict{Reason: "not a JPG or file not found"}
	}

	info := readEXIF(path)
	reasons := info.reasons

	if info.exposureTime != nil && info.iso != nil && *info.exposureTime > 0.5 && *info.iso <= 100 {
		reasons = append(reasons, fmt.Sprintf("Heuristic: exposure time (%.2fs) > 0.5 and ISO (%d) <= 100",
			*info.exposureTime, *info.iso))
	}
	if b := info.exposureBias; b != nil && *b >= 0.6 && *b <= 0.8 {
		reasons = append(reasons, fmt.Sprintf("Exposure bias %.2f (between 0.6 and 0.8)", *b))
	}

	verdict := models.HDRVerdict{ExposureBias: info.exposureBias}
	exifErr := info.errorText()

	img, err := decodeFile(path)
	if err != nil {
		if len(reasons) == 0 {
			verdict.Reason = "Could not decode image: " + err.Error() + withDetail(" (%s)", exifErr)
			return verdict
		}
		verdict.IsHDR = true
		verdict.Reason = strings.Join(reasons, ", ") + fmt.Sprintf(" (warning: decode failed: %v)", err)
		return verdict
	}

	stats := ComputeStats(img)
	reasons = append(reasons, matchCriteria(stats, info)...)

	if len(reasons) > 0 {
		verdict.IsHDR = true
		verdict.Reason = strings.Join(reasons, ", ") + withDetail(" (warning: earlier EXIF error: %s)", exifErr)
		return verdict
	}
	verdict.Reason = noHDRReason + withDetail(" (EXIF detail: %s)", exifErr)
	return verdict
}

func withDetail(format, detail string) string {
	if detail == "" {
		return ""
	}
	return fmt.Sprintf(format, detail)
}

func matchCriteria(s ImageStats, info exifInfo) []string {
	var reasons []string
	clip := fmt.Sprintf("entropy %.2f, shadows %.4f, highlights %.4f", s.Entropy, s.Shadows, s.Highlights)

	if s.Entropy > 7.3 && s.Shadows < 0.001 && s.Highlights < 0.001 {
		reasons = append(reasons, "Image stats: "+clip+" (criterion 1)")
	}
	if s.Entropy > 6.8 && s.Shadows < 0.005 && s.Highlights < 0.005 {
		reasons = append(reasons, "Image stats: "+clip+" (criterion 2)")
	}
	if s.Saturation > 160 && s.Entropy > 6.5 {
		reasons = append(reasons, fmt.Sprintf("Image stats: saturation %.2f, entropy %.2f (criterion 3)",
			s.Saturation, s.Entropy))
	}
	if info.ricohZ1 && info.iso != nil && *info.iso <= 200 &&
		s.Entropy > 6.0 && s.Shadows < 0.01 && s.Highlights < 0.01 {
		reasons = append(reasons, "Ricoh Z1 image stats: "+clip+" (Ricoh criterion)")
	}
	return reasons
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// ComputeStats builds a 256-bin luma histogram (Y = 0.299R + 0.587G + 0.114B)
// and returns its entropy, the clipped shadow and highlight fractions and the
// mean HSV saturation on a 0-255 scale.
func ComputeStats(img image.Image) ImageStats {
	var hist [256]int
	var satSum float64

	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return ImageStats{}
	}

	add := func(r, g, bl uint8) {
		y := math.Round(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl))
		hist[int(math.Min(y, 255))]++
		satSum += saturation(r, g, bl)
	}

	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi, ci := src.YOffset(x, y), src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				add(r, g, bl)
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := src.GrayAt(x, y).Y
				add(v, v, v)
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				add(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			}
		}
	}

	n := float64(total)
	var entropy float64
	for _, c := range hist {
		p := float64(c) / n
		entropy -= p * math.Log2(p+1e-10)
	}

	var shadows, highlights int
	for i := 0; i < shadowBins; i++ {
		shadows += hist[i]
	}
	for i := highlightStart; i < 256; i++ {
		highlights += hist[i]
	}

	return ImageStats{
		Entropy:    entropy,
		Shadows:    float64(shadows) / n,
		Highlights: float64(highlights) / n,
		Saturation: satSum / n,
	}
}

func saturation(r, g, b uint8) float64 {
	max := math.Max(float64(r), math.Max(float64(g), float64(b)))
	if max == 0 {
		return 0
	}
	min := math.Min(float64(r), math.Min(float64(g), float64(b)))
	return math.Round(255 * (max - min) / max)
}

func readEXIF(path string) exifInfo {
	var info exifInfo

	f, err := os.Open(path)
	if err != nil {
		info.errs = append(info.errs, "open: "+err.Error())
		return info
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		if x == nil || exif.IsCriticalError(err) {
			if !isMissingEXIF(err) {
				info.errs = append(info.errs, "general EXIF load error: "+err.Error())
			}
			return info
		}
		info.errs = append(info.errs, err.Error())
	}

	camMake, _ := exifString(x, exif.Make)
	camModel, _ := exifString(x, exif.Model)
	info.ricohZ1 = strings.Contains(strings.ToUpper(camMake), "RICOH") &&
		strings.Contains(strings.ToUpper(camModel), "THETA Z1")

	if v, err := exifRatio(x, exif.ExposureBiasValue); err != nil {
		info.errs = append(info.errs, "exposure bias: "+err.Error())
	} else {
		info.exposureBias = v
	}
	if v, err := exifRatio(x, exif.ExposureTime); err != nil {
		info.errs = append(info.errs, "exposure time: "+err.Error())
	} else {
		info.exposureTime = v
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			info.iso = &iso
		} else {
			info.errs = append(info.errs, "ISO: "+err.Error())
		}
	}

	// Walk visits tags in map order.
	_ = x.Walk(tagScanner{info: &info})
	sort.Strings(info.reasons)
	return info
}

// isMissingEXIF reports the error goexif returns for a file without an EXIF block.
func isMissingEXIF(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "failed to find exif intro marker") || strings.Contains(msg, "EOF")
}

func exifString(x *exif.Exif, name exif.FieldName) (string, error) {
	tag, err := x.Get(name)
	if err != nil {
		return "", err
	}
	return tagText(tag), nil
}

// exifRatio returns nil, nil when the tag is absent or its denominator is zero.
func exifRatio(x *exif.Exif, name exif.FieldName) (*float64, error) {
	tag, err := x.Get(name)
	if err != nil {
		return nil, nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return nil, err
	}
	if den == 0 {
		return nil, nil
	}
	v := float64(num) / float64(den)
	return &v, nil
}

func tagText(tag *tiff.Tag) string {
	switch tag.Format() {
	case tiff.StringVal:
		s, _ := tag.StringVal()
		return strings.Trim(s, "\x00 ")
	case tiff.UndefVal:
		return strings.Trim(string(tag.Val), "\x00 ")
	default:
		return tag.String()
	}
}

// tagScanner looks for HDR and bracketing hints in every EXIF tag.
type tagScanner struct {
	info *exifInfo
}

func (s tagScanner) Walk(name exif.FieldName, tag *tiff.Tag) error {
	tagName := string(name)
	upperName := strings.ToUpper(tagName)
	upperValue := strings.ToUpper(tagText(tag))

	if containsHDR(upperName) {
		s.info.reasons = append(s.info.reasons, fmt.Sprintf("EXIF tag '%s' name contains HDR", tagName))
	}
	if containsHDR(upperValue) {
		s.info.reasons = append(s.info.reasons, fmt.Sprintf("EXIF tag '%s' value contains HDR", tagName))
	}
	if s.info.ricohZ1 && strings.Contains(upperName, "BRACKET") {
		s.info.reasons = append(s.info.reasons, fmt.Sprintf("Ricoh Z1: tag '%s' contains BRACKET", tagName))
	}
	if s.info.ricohZ1 && name == exif.ExposureProgram && strings.Contains(upperValue, "HDR") {
		s.info.reasons = append(s.info.reasons, "Ricoh Z1: ExposureProgram indicates HDR")
	}
	return nil
}

func containsHDR(s string) bool {
	return strings.Contains(s, "HDR") || strings.Contains(s, "HIGH DYNAMIC RANGE")
}
