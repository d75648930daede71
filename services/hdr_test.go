package services

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func grayImage(w, h int, value func(x, y int) uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: value(x, y)})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, img image.Image, app1 []byte) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if app1 != nil {
		// SOI, then the APP1 segment, then the rest of the stream.
		data = append(append(append([]byte{}, data[:2]...), app1...), data[2:]...)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// ricohEXIF builds an APP1 segment with a little-endian TIFF block holding
// Make, Model, Software and an Exif sub-IFD with ExposureTime, ISO and
// ExposureBiasValue.
func ricohEXIF(software string, expNum, expDen uint32, iso uint16, biasNum, biasDen int32) []byte {
	le := binary.LittleEndian
	type entry struct {
		tag, typ uint16
		count    uint32
		value    []byte
	}
	ascii := func(s string) []byte { return append([]byte(s), 0) }
	rational := func(n, d uint32) []byte {
		b := make([]byte, 8)
		le.PutUint32(b, n)
		le.PutUint32(b[4:], d)
		return b
	}

	const ifd0Offset = 8
	ifd0 := []entry{
		{0x010F, 2, 0, ascii("RICOH")},
		{0x0110, 2, 0, ascii("RICOH THETA Z1")},
		{0x0131, 2, 0, ascii(software)},
		{0x8769, 4, 1, nil}, // Exif IFD pointer, patched below
	}
	isoBytes := make([]byte, 4)
	le.PutUint16(isoBytes, iso)
	exifIFD := []entry{
		{0x829A, 5, 1, rational(expNum, expDen)},
		{0x8827, 3, 1, isoBytes},
		{0x9204, 10, 1, rational(uint32(biasNum), uint32(biasDen))},
	}

	ifdSize := func(n int) int { return 2 + 12*n + 4 }
	dataSize := func(es []entry) int {
		n := 0
		for _, e := range es {
			if len(e.value) > 4 {
				n += len(e.value)
			}
		}
		return n
	}
	exifOffset := ifd0Offset + ifdSize(len(ifd0)) + dataSize(ifd0)

	out := make([]byte, 0, 256)
	out = append(out, 'I', 'I', 42, 0)
	out = le.AppendUint32(out, ifd0Offset)

	writeIFD := func(start int, es []entry) {
		dataAt := start + ifdSize(len(es))
		var data []byte
		out = le.AppendUint16(out, uint16(len(es)))
		for _, e := range es {
			count := e.count
			if e.typ == 2 {
				count = uint32(len(e.value))
			}
			out = le.AppendUint16(out, e.tag)
			out = le.AppendUint16(out, e.typ)
			out = le.AppendUint32(out, count)
			switch {
			case e.value == nil:
				out = le.AppendUint32(out, uint32(exifOffset))
			case len(e.value) <= 4:
				v := make([]byte, 4)
				copy(v, e.value)
				out = append(out, v...)
			default:
				out = le.AppendUint32(out, uint32(dataAt+len(data)))
				data = append(data, e.value...)
			}
		}
		out = le.AppendUint32(out, 0)
		out = append(out, data...)
	}
	writeIFD(ifd0Offset, ifd0)
	writeIFD(exifOffset, exifIFD)

	payload := append([]byte("Exif\x00\x00"), out...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

func TestComputeStatsUniform(t *testing.T) {
	s := ComputeStats(grayImage(10, 10, func(int, int) uint8 { return 128 }))
	if s.Entropy > 0.001 {
		t.Errorf("entropy of a flat image = %v; want ~0", s.Entropy)
	}
	if s.Shadows != 0 || s.Highlights != 0 || s.Saturation != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestComputeStatsClipping(t *testing.T) {
	// 4 columns: 0, 0, 255, 100 -> half shadows, a quarter highlights.
	img := grayImage(4, 4, func(x, _ int) uint8 { return []uint8{0, 0, 255, 100}[x] })
	s := ComputeStats(img)
	if s.Shadows != 0.5 || s.Highlights != 0.25 {
		t.Errorf("shadows %v highlights %v", s.Shadows, s.Highlights)
	}
	if math.Abs(s.Entropy-1.5) > 1e-6 {
		t.Errorf("entropy = %v; want 1.5", s.Entropy)
	}
}

func TestComputeStatsSaturation(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{R: 200, G: 100, B: 100, A: 255})
	s := ComputeStats(img)
	// (255 + round(255*100/200)) / 2
	if want := (255.0 + 128.0) / 2; s.Saturation != want {
		t.Errorf("saturation = %v; want %v", s.Saturation, want)
	}
}

func TestMatchCriteria(t *testing.T) {
	iso := 150
	tests := []struct {
		name  string
		stats ImageStats
		info  exifInfo
		want  []string
	}{
		{"flat", ImageStats{Entropy: 5}, exifInfo{}, nil},
		{"criteria 1 and 2", ImageStats{Entropy: 7.5}, exifInfo{}, []string{"criterion 1", "criterion 2"}},
		{"criterion 2 only", ImageStats{Entropy: 7.0, Shadows: 0.002}, exifInfo{}, []string{"criterion 2"}},
		{"saturated", ImageStats{Entropy: 6.6, Saturation: 170, Shadows: 0.2}, exifInfo{}, []string{"criterion 3"}},
		{"ricoh", ImageStats{Entropy: 6.2, Shadows: 0.008}, exifInfo{ricohZ1: true, iso: &iso}, []string{"Ricoh criterion"}},
		{"ricoh without iso", ImageStats{Entropy: 6.2}, exifInfo{ricohZ1: true}, nil},
	}
	for _, tt := range tests {
		got := matchCriteria(tt.stats, tt.info)
		if len(got) != len(tt.want) {
			t.Errorf("%s: got %v; want %d reasons", tt.name, got, len(tt.want))
			continue
		}
		for i, w := range tt.want {
			if !strings.Contains(got[i], w) {
				t.Errorf("%s: reason %q does not mention %q", tt.name, got[i], w)
			}
		}
	}
}

func TestDetectHDRRejectsNonJPEG(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "missing.jpg")} {
		v := DetectHDR(p)
		if v.IsHDR || v.Reason != "not a JPG or file not found" {
			t.Errorf("DetectHDR(%s) = %+v", p, v)
		}
	}
}

func TestDetectHDRFlatImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.jpg")
	writeJPEG(t, path, grayImage(64, 64, func(int, int) uint8 { return 90 }), nil)

	v := DetectHDR(path)
	if v.IsHDR {
		t.Fatalf("flat image classified as HDR: %s", v.Reason)
	}
	if !strings.HasPrefix(v.Reason, noHDRReason) {
		t.Errorf("reason = %q", v.Reason)
	}
	if v.ExposureBias != nil {
		t.Errorf("no EXIF means no exposure bias, got %v", *v.ExposureBias)
	}
}

func TestDetectHDRWideHistogram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gradient.jpg")
	// 211 evenly populated grey levels, well away from the clipping bands.
	writeJPEG(t, path, grayImage(422, 40, func(x, _ int) uint8 { return uint8(20 + x/2) }), nil)

	v := DetectHDR(path)
	if !v.IsHDR {
		t.Fatalf("expected HDR, got %q", v.Reason)
	}
	if !strings.Contains(v.Reason, "criterion 1") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestDetectHDRFromEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theta.jpg")
	app1 := ricohEXIF("HDR Pro", 1, 1, 80, 7, 10)
	writeJPEG(t, path, grayImage(32, 32, func(int, int) uint8 { return 90 }), app1)

	info := readEXIF(path)
	if !info.ricohZ1 {
		t.Errorf("Ricoh Z1 not recognised (errs: %v)", info.errs)
	}
	if info.iso == nil || *info.iso != 80 {
		t.Errorf("iso = %v", info.iso)
	}

	v := DetectHDR(path)
	if !v.IsHDR {
		t.Fatalf("expected HDR from EXIF, got %q", v.Reason)
	}
	if v.ExposureBias == nil || math.Abs(*v.ExposureBias-0.7) > 1e-9 {
		t.Errorf("ExposureBias = %v", v.ExposureBias)
	}
	for _, want := range []string{
		"EXIF tag 'Software' value contains HDR",
		"Heuristic: exposure time (1.00s) > 0.5 and ISO (80) <= 100",
		"Exposure bias 0.70 (between 0.6 and 0.8)",
	} {
		if !strings.Contains(v.Reason, want) {
			t.Errorf("reason %q missing %q", v.Reason, want)
		}
	}
}

func TestDetectHDRExposureOutsideRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	app1 := ricohEXIF("Firmware 1.0", 1, 250, 400, 3, 10)
	writeJPEG(t, path, grayImage(32, 32, func(int, int) uint8 { return 90 }), app1)

	v := DetectHDR(path)
	if v.IsHDR {
		t.Errorf("expected no HDR, got %q", v.Reason)
	}
	if v.ExposureBias == nil || math.Abs(*v.ExposureBias-0.3) > 1e-9 {
		t.Errorf("ExposureBias = %v", v.ExposureBias)
	}
}

func TestDetectHDRUndecodableWithEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.jpg")
	data := append([]byte{0xFF, 0xD8}, ricohEXIF("HDR Pro", 1, 60, 400, 0, 1)...)
	data = append(data, []byte("scan data lost in transfer")...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	v := DetectHDR(path)
	if !v.IsHDR {
		t.Fatalf("EXIF reasons should make an undecodable file HDR, got %q", v.Reason)
	}
	if !strings.Contains(v.Reason, "value contains HDR") || !strings.Contains(v.Reason, "decode failed") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestDetectHDRUndecodableWithoutEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	v := DetectHDR(path)
	if v.IsHDR {
		t.Fatalf("garbage file classified as HDR: %q", v.Reason)
	}
	if !strings.HasPrefix(v.Reason, "Could not decode image") {
		t.Errorf("reason = %q", v.Reason)
	}
}
