// plant.go

package models

// DifficultyBand selects comparable plants for a pairing's skill range.
type DifficultyBand string

const (
	// DifficultyEasy common garden species
	DifficultyEasy DifficultyBand = "easy"
	// DifficultyMedium regional flora
	DifficultyMedium DifficultyBand = "medium"
	// DifficultyHard uncommon species
	DifficultyHard DifficultyBand = "hard"
	// DifficultyExpert look-alike heavy species
	DifficultyExpert DifficultyBand = "expert"
)

// PlantRecord is one plant question supplied by the content provider.
type PlantRecord struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	ImageRef string         `json:"image_ref"`
	Fact     string         `json:"fact"`
	Band     DifficultyBand `json:"difficulty"`
}

// DifficultyForRating maps the pairing's average rating to a band.
func DifficultyForRating(avgRating int) DifficultyBand {
	switch {
	case avgRating < 1150:
		return DifficultyEasy
	case avgRating < 1350:
		return DifficultyMedium
	case avgRating < 1600:
		return DifficultyHard
	default:
		return DifficultyExpert
	}
}

// Narrower returns the next easier band, or false from the easiest one.
func Narrower(band DifficultyBand) (DifficultyBand, bool) {
	switch band {
	case DifficultyExpert:
		return DifficultyHard, true
	case DifficultyHard:
		return DifficultyMedium, true
	case DifficultyMedium:
		return DifficultyEasy, true
	default:
		return DifficultyEasy, false
	}
}
