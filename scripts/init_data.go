// init_data.go

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
	"github.com/verdantlab/BotanyBattle-Server/pkg/db"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	dataType := flag.String("type", "all", "data to seed (plants, players, all)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	conn, err := db.OpenPostgres(&cfg.Database)
	if err != nil {
		log.Fatalf("PostgreSQL init failed: %v", err)
	}
	defer conn.Close()

	if err := db.EnsureSchema(conn); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}
	log.Println("schema ready")

	switch *dataType {
	case "plants":
		if err := seedPlants(conn); err != nil {
			log.Fatalf("seed plants failed: %v", err)
		}
		log.Println("plant catalog seeded")
	case "players":
		if err := seedPlayers(cfg, conn); err != nil {
			log.Fatalf("seed players failed: %v", err)
		}
		log.Println("demo players seeded")
	case "all":
		if err := seedPlants(conn); err != nil {
			log.Fatalf("seed plants failed: %v", err)
		}
		log.Println("plant catalog seeded")

		if err := seedPlayers(cfg, conn); err != nil {
			log.Fatalf("seed players failed: %v", err)
		}
		log.Println("demo players seeded")
	default:
		log.Fatalf("unknown data type: %s", *dataType)
	}

	log.Println("seeding complete")
}

// seedPlants loads the starter plant catalog.
func seedPlants(conn *sql.DB) error {
	type seedPlant struct {
		name string
		fact string
		band models.DifficultyBand
	}

	catalog := []seedPlant{
		{"Sunflower", "Young sunflowers track the sun across the sky, a behavior called heliotropism.", models.DifficultyEasy},
		{"Dandelion", "Every part of the dandelion is edible, from root to flower.", models.DifficultyEasy},
		{"Cactus", "Cactus spines are modified leaves that reduce water loss.", models.DifficultyEasy},
		{"Rose", "Rose hips contain more vitamin C by weight than oranges.", models.DifficultyEasy},
		{"Tulip", "In the 1630s single tulip bulbs sold for more than houses in Amsterdam.", models.DifficultyEasy},
		{"Daisy", "The name daisy comes from 'day's eye': the flower closes at night.", models.DifficultyEasy},

		{"Lavender", "Lavender oil was used in Roman baths; the name comes from 'lavare', to wash.", models.DifficultyMedium},
		{"Fern", "Ferns reproduce by spores and predate flowering plants by 200 million years.", models.DifficultyMedium},
		{"Aloe Vera", "Aloe vera stores water in its leaves and can lose them in drought to survive.", models.DifficultyMedium},
		{"Snapdragon", "Squeezing a snapdragon flower makes its 'jaws' open and close.", models.DifficultyMedium},
		{"Foxglove", "Foxglove is the original source of the heart medication digitalis.", models.DifficultyMedium},
		{"Hosta", "Hostas are shade champions, thriving where most perennials fail.", models.DifficultyMedium},

		{"Venus Flytrap", "A Venus flytrap counts: a trap only closes after two touches within twenty seconds.", models.DifficultyHard},
		{"Monstera Deliciosa", "Monstera fruit tastes of pineapple and banana but is toxic until fully ripe.", models.DifficultyHard},
		{"Bird of Paradise", "The flower's shape mimics a bird's head to attract pollinating sunbirds.", models.DifficultyHard},
		{"Staghorn Fern", "Staghorn ferns grow on tree trunks and absorb water through their fronds.", models.DifficultyHard},
		{"Pitcher Plant", "Pitcher plants drown insects in a pool of digestive fluid.", models.DifficultyHard},
		{"String of Pearls", "Its bead-shaped leaves are a water-saving adaptation with a tiny transparent window.", models.DifficultyHard},

		{"Welwitschia", "Welwitschia grows only two leaves in a lifetime that can span 1,500 years.", models.DifficultyExpert},
		{"Corpse Flower", "The titan arum blooms once a decade and smells of rotting flesh.", models.DifficultyExpert},
		{"Ghost Orchid", "The ghost orchid has no leaves and photosynthesizes through its roots.", models.DifficultyExpert},
		{"Wollemi Pine", "Known only from fossils until 1994, when a grove was found in Australia.", models.DifficultyExpert},
		{"Rafflesia", "Rafflesia produces the largest single flower on Earth, up to a meter across.", models.DifficultyExpert},
		{"Jade Vine", "Its luminous turquoise claws are pollinated by bats hanging upside down.", models.DifficultyExpert},
	}

	for _, plant := range catalog {
		imageRef := fmt.Sprintf("plants/%s.jpg", slugify(plant.name))
		if _, err := conn.Exec(`
			INSERT INTO plants (name, image_ref, fact, difficulty)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				image_ref = EXCLUDED.image_ref,
				fact = EXCLUDED.fact,
				difficulty = EXCLUDED.difficulty
		`, plant.name, imageRef, plant.fact, string(plant.band)); err != nil {
			return fmt.Errorf("insert plant %s: %w", plant.name, err)
		}
	}
	return nil
}

// seedPlayers creates a few demo accounts across the rating spread.
func seedPlayers(cfg *config.Config, conn *sql.DB) error {
	store := rating.NewPostgresStore(conn)

	demo := []struct {
		id       string
		username string
		rating   int
	}{
		{"demo-fern", "FernFanatic", 980},
		{"demo-moss", "MossBoss", 1120},
		{"demo-ivy", "IvyLeague", 1260},
		{"demo-oak", "OakenShield", 1430},
		{"demo-orchid", "OrchidWhisperer", 1650},
	}

	ctx := context.Background()
	for _, account := range demo {
		player, err := store.EnsurePlayer(ctx, account.id, account.username, account.rating)
		if err != nil {
			return fmt.Errorf("ensure player %s: %w", account.id, err)
		}
		log.Printf("seeded player %s (rating %d)", player.Username, player.Rating)
	}
	return nil
}

// slugify lowercases and dashes a plant name for its image path.
func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
