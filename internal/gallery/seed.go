package gallery

import (
	"strings"

	"atelier/api/internal/store"
)

// SeedPrefix marks the bundled demo records. Seed pieces exist only in the
// fallback list below, are never written to the store, and reject every
// mutation.
const SeedPrefix = "demo-"

func IsSeed(id string) bool {
	return strings.HasPrefix(id, SeedPrefix)
}

var seedArtworks = []store.Artwork{
	{
		ID:     "demo-1",
		Title:  "Study of Jasmine",
		Medium: "Oil on Linen",
		URL:    "https://images.unsplash.com/photo-1599577789404-58674d5300f8?q=80&w=1000&auto=format&fit=crop",
	},
	{
		ID:     "demo-2",
		Title:  "The Silent Prayer",
		Medium: "Charcoal Portrait",
		URL:    "https://images.unsplash.com/photo-1637612347372-13c544d67310?q=80&w=1000&auto=format&fit=crop",
	},
	{
		ID:     "demo-3",
		Title:  "Offering at Dusk",
		Medium: "Acrylic",
		URL:    "https://images.unsplash.com/photo-1628097032731-0305545d9492?q=80&w=1000&auto=format&fit=crop",
	},
	{
		ID:     "demo-4",
		Title:  "Still Life with Brass",
		Medium: "Oil on Canvas",
		URL:    "https://images.unsplash.com/photo-1549490349-8643362247b5?q=80&w=1000&auto=format&fit=crop",
	},
	{
		ID:     "demo-5",
		Title:  "Deity Study",
		Medium: "Watercolor",
		URL:    "https://images.unsplash.com/photo-1628081469502-0e3a6c2f37c4?q=80&w=1000&auto=format&fit=crop",
	},
	{
		ID:     "demo-6",
		Title:  "Morning Light",
		Medium: "Photography",
		URL:    "https://images.unsplash.com/photo-1516961642265-531546e84af2?q=80&w=1000&auto=format&fit=crop",
	},
}

// SeedArtworks returns a fresh copy of the bundled demo gallery.
func SeedArtworks() []store.Artwork {
	out := make([]store.Artwork, len(seedArtworks))
	copy(out, seedArtworks)
	return out
}
