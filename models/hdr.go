package models

import "fmt"

// HDRVerdict is the classifier output for a single image.
type HDRVerdict struct {
	IsHDR bool
	// ExposureBias is nil when the EXIF tag is absent or unreadable.
	ExposureBias *float64
	Reason       string
}

// DriveFile is an image stored in a remote folder.
type DriveFile struct {
	ID       string
	Name     string
	MimeType string
}

// FolderVerdict aggregates the verdicts of every image in one folder.
type FolderVerdict struct {
	HDR    int
	NonHDR int
	Failed int
}

// Processed is the number of images that produced a verdict.
func (f FolderVerdict) Processed() int {
	return f.HDR + f.NonHDR
}

// Summary renders the text written to the spreadsheet cell.
func (f FolderVerdict) Summary() string {
	switch {
	case f.Processed() == 0:
		return "Carpeta: No se procesaron imágenes válidas."
	case f.HDR > 0 && f.NonHDR > 0:
		return fmt.Sprintf("Carpeta: %d HDR, %d No HDR", f.HDR, f.NonHDR)
	case f.HDR > 0:
		return fmt.Sprintf("Carpeta: TODAS HDR (%d imágenes)", f.HDR)
	default:
		return fmt.Sprintf("Carpeta: TODAS NO HDR (%d imágenes)", f.NonHDR)
	}
}

// Spreadsheet cell texts for rows that never reach image analysis.
const (
	SummaryNoURL       = "Sin URL de Carpeta"
	SummaryNoFolderID  = "Error: ID de Carpeta de Drive no encontrado en la URL."
	SummaryEmptyFolder = "Carpeta vacía o no contiene JPGs/PNGs."
	ResultColumnHeader = "Estado HDR (Carpeta)"
)
