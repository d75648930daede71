package api

import (
	"errors"
	"os"

	"car-listings-toolkit/models"
	"car-listings-toolkit/storage"
	"car-listings-toolkit/utils"
)

// Store holds the listings and analysis summary served by the API. It is
// loaded once at startup and never modified afterwards.
type Store struct {
	listings []models.LocalListing
	byGUID   map[string]int
	analysis map[string]any
}

// NewStore indexes listings by guid_anuncio. The first listing with a given
// guid wins.
func NewStore(listings []models.LocalListing, analysis map[string]any) *Store {
	s := &Store{
		listings: listings,
		byGUID:   make(map[string]int, len(listings)),
		analysis: analysis,
	}
	if s.analysis == nil {
		s.analysis = map[string]any{}
	}
	for i := range listings {
		guid := listings[i].GUID()
		if guid == "" {
			continue
		}
		if _, dup := s.byGUID[guid]; !dup {
			s.byGUID[guid] = i
		}
	}
	return s
}

// LoadStore reads both JSON files. Missing or unreadable files are logged and
// leave the corresponding data empty.
func LoadStore(listingsPath, analysisPath string, logger *utils.Logger) *Store {
	listings, err := storage.ReadListings(listingsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("[api] Listings file %s not found, listings will be empty", listingsPath)
	case err != nil:
		logger.Error("[api] Could not load listings: %v", err)
		listings = nil
	default:
		logger.Info("[api] Loaded %d listings from %s", len(listings), listingsPath)
	}

	analysis, err := storage.ReadAnalysis(analysisPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("[api] Analysis file %s not found, analysis will be empty", analysisPath)
	case err != nil:
		logger.Error("[api] Could not load analysis: %v", err)
		analysis = nil
	default:
		logger.Info("[api] Loaded analysis results from %s", analysisPath)
	}

	return NewStore(listings, analysis)
}

// Len returns the number of listings.
func (s *Store) Len() int { return len(s.listings) }

// Page returns the listings of a 1-based page.
func (s *Store) Page(page, limit int) []models.LocalListing {
	start := (page - 1) * limit
	if start >= len(s.listings) {
		return nil
	}
	end := start + limit
	if end > len(s.listings) {
		end = len(s.listings)
	}
	return s.listings[start:end]
}

// Get looks a listing up by guid.
func (s *Store) Get(guid string) (*models.LocalListing, bool) {
	i, ok := s.byGUID[guid]
	if !ok {
		return nil, false
	}
	return &s.listings[i], true
}

// Analysis returns the raw analysis object.
func (s *Store) Analysis() map[string]any { return s.analysis }
