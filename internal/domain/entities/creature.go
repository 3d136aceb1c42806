package entities

import "time"

// Rarity values the vision model is asked to pick from.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// BaseStats are the creature's combat stats, each in [0, 100].
type BaseStats struct {
	Health       int `json:"health"`
	Attack       int `json:"attack"`
	Defense      int `json:"defense"`
	Speed        int `json:"speed"`
	Intelligence int `json:"intelligence"`
	Special      int `json:"special"`
}

// CreatureSheet is what the vision step extracts from an uploaded image.
type CreatureSheet struct {
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Color          string    `json:"color"`
	Description    string    `json:"description"`
	Abilities      []string  `json:"abilities"`
	BaseStats      BaseStats `json:"base_stats"`
	Rarity         string    `json:"rarity"`
	Habitat        string    `json:"habitat"`
	Behavior       string    `json:"behavior"`
	PreferredItems []string  `json:"preferred_items"`
	Height         string    `json:"height"`
	Weight         string    `json:"weight"`
}

// Creature is a generated creature owned by a user.
type Creature struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Slug            string    `json:"slug" db:"slug"`
	CreatureSheet             // flattened into the JSON document
	DescriptionHTML string    `json:"description_html" db:"description_html"`
	SourceImageURL  string    `json:"source_image_url" db:"source_image_url"`
	ImageURL        string    `json:"image_url" db:"image_url"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// ClampStats forces every stat into [0, 100].
func (s *BaseStats) ClampStats() {
	for _, v := range []*int{&s.Health, &s.Attack, &s.Defense, &s.Speed, &s.Intelligence, &s.Special} {
		if *v < 0 {
			*v = 0
		}
		if *v > 100 {
			*v = 100
		}
	}
}

// NormalizeRarity maps unknown rarities to common.
func NormalizeRarity(r string) string {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
		return r
	}
	return RarityCommon
}
