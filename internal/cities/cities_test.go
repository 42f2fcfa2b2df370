package cities

import (
	"testing"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

func TestSearch(t *testing.T) {
	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"exact", "madrid", 0, []string{"Madrid"}},
		{"case insensitive substring", "ON", 0, []string{"Barcelona", "London"}},
		{"accented", "são", 0, []string{"São Paulo"}},
		{"limit", "a", 3, []string{"Madrid", "Barcelona", "Valencia"}},
		{"empty", "  ", 0, []string{}},
		{"no match", "atlantis", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Search(tt.query, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.query, got, tt.want)
			}
			for i, c := range got {
				if c.Name != tt.want[i] {
					t.Errorf("Search(%q)[%d] = %q, want %q", tt.query, i, c.Name, tt.want[i])
				}
			}
		})
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	if got := Search("a", 0); len(got) != DefaultSearchLimit {
		t.Errorf("len(Search) = %d, want %d", len(got), DefaultSearchLimit)
	}
}

func TestNearest(t *testing.T) {
	city, km, ok := Nearest(models.Coordinate{Latitude: 40.42, Longitude: -3.70}, 50)
	if !ok || city.Name != "Madrid" {
		t.Fatalf("Nearest() = %v, %v, %v; want Madrid", city, km, ok)
	}
	if km > 1 {
		t.Errorf("distance = %v km, want < 1", km)
	}

	if _, _, ok := Nearest(models.Coordinate{Latitude: 0, Longitude: -160}, 50); ok {
		t.Error("Nearest() in the open Pacific should not match within 50 km")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	list := All()
	list[0].Name = "changed"
	if All()[0].Name != "Madrid" {
		t.Error("All() must not expose the internal table")
	}
	if len(All()) != 25 {
		t.Errorf("len(All()) = %d, want 25", len(All()))
	}
}

func TestLookup(t *testing.T) {
	c, ok := Lookup("  barcelona ")
	if !ok || c.Name != "Barcelona" {
		t.Fatalf("Lookup(barcelona) = %+v, %v", c, ok)
	}
	if _, ok := Lookup("Atlantis"); ok {
		t.Error("Lookup(Atlantis) ok = true, want false")
	}
	if _, ok := Lookup("Mad"); ok {
		t.Error("Lookup(Mad) matched a prefix, want exact name only")
	}
}
