package storage

import (
	"strings"
	"testing"

	"car-listings-toolkit/models"
)

func TestBuildUpsert(t *testing.T) {
	batch := []*models.RawListing{
		{OriginalURL: "https://a", GUID: "g1", Fields: map[string]string{"brand": "Seat"}, Images: []string{"i1", "i2"}},
		{OriginalURL: "https://b", GUID: "g2", Fields: map[string]string{"model": "Niro"}},
	}

	query, args, err := buildUpsert(batch)
	if err != nil {
		t.Fatalf("buildUpsert: %v", err)
	}
	if len(args) != 2*upsertColumns {
		t.Fatalf("expected %d args, got %d", 2*upsertColumns, len(args))
	}
	if !strings.Contains(query, "($11,$12,$13,$14,$15,$16,$17,$18,$19,$20)") {
		t.Errorf("second placeholder group missing:\n%s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (guid) DO UPDATE") {
		t.Error("query must upsert on guid")
	}
	if args[0] != "g1" || args[2] != "Seat" || args[8] != "i1|i2" {
		t.Errorf("unexpected first row args: %v", args[:upsertColumns])
	}
	if args[upsertColumns+9] != `{"model":"Niro"}` {
		t.Errorf("fields json = %v", args[upsertColumns+9])
	}
}
