package storage

import "car-listings-toolkit/models"

// RawListingWriter is the interface any sink for scraped listings must satisfy.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}
