package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"clinica/internal/database"
	"clinica/internal/models"
	"clinica/internal/service"
	"clinica/internal/session"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// SeedFile is the layout of the catalog seed document.
type SeedFile struct {
	Services []models.Service      `yaml:"services"`
	Schedule *models.SchedulePolicy `yaml:"schedule"`
	Location *models.Location       `yaml:"location"`
	Profile  *models.Profile        `yaml:"profile"`
}

type seedResult struct {
	created int
	updated int
}

var seedActor = &session.Identity{ID: "migrate", Role: models.RoleAdmin}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath = flag.String("seed", "configs/seed.yaml", "path to seed.yaml")
		dbPath   = flag.String("db", "./data/clinica.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	seed, err := parseSeed(data)
	if err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := apply(ctx, db, seed, &logger)
	if err != nil {
		return err
	}

	fmt.Printf("done: created=%d updated=%d\n", res.created, res.updated)
	return nil
}

func parseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.UnmarshalStrict(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if len(seed.Services) == 0 && seed.Schedule == nil && seed.Location == nil && seed.Profile == nil {
		return nil, fmt.Errorf("seed file is empty")
	}
	return &seed, nil
}

// apply upserts catalog services by name and overwrites the settings
// documents present in seed. It goes through the service layer so seeded
// data obeys the same validation as admin edits.
func apply(ctx context.Context, db *database.DB, seed *SeedFile, logger *zerolog.Logger) (seedResult, error) {
	var res seedResult

	catalog := service.NewCatalogService(db, logger)
	existing, err := db.ListServices(ctx)
	if err != nil {
		return res, err
	}
	byName := make(map[string]*models.Service, len(existing))
	for _, s := range existing {
		byName[strings.ToLower(strings.TrimSpace(s.Name))] = s
	}

	for i := range seed.Services {
		svc := seed.Services[i]
		if strings.TrimSpace(svc.Name) == "" {
			continue
		}
		if current, ok := byName[strings.ToLower(strings.TrimSpace(svc.Name))]; ok {
			svc.ID = current.ID
			if err := catalog.UpdateService(ctx, &svc, seedActor); err != nil {
				return res, fmt.Errorf("update %s: %w", svc.Name, err)
			}
			res.updated++
			continue
		}
		if err := catalog.CreateService(ctx, &svc, seedActor); err != nil {
			return res, fmt.Errorf("create %s: %w", svc.Name, err)
		}
		res.created++
	}

	if seed.Schedule != nil {
		if _, err := service.NewScheduleService(db, logger).SetPolicy(ctx, *seed.Schedule, seedActor); err != nil {
			return res, fmt.Errorf("schedule: %w", err)
		}
	}
	if seed.Location != nil {
		if err := service.NewLocationService(db, logger).Save(ctx, *seed.Location, seedActor); err != nil {
			return res, fmt.Errorf("location: %w", err)
		}
	}
	if seed.Profile != nil {
		if _, err := service.NewProfileService(db).Save(ctx, *seed.Profile, seedActor); err != nil {
			return res, fmt.Errorf("profile: %w", err)
		}
	}
	return res, nil
}
