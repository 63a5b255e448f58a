// Command spot-import loads a spot layout from JSON files into parking_spaces,
// or exports the stored layout back to the same file format.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/db"
	"parking-occupancy-service/internal/logger"
	"parking-occupancy-service/internal/registry"
	"parking-occupancy-service/internal/repository"
	"parking-occupancy-service/internal/service"
)

func main() {
	spotsFile := flag.String("spots", "", "spots JSON file (defaults to SPOTS_FILE)")
	mappingFile := flag.String("mapping", "", "spot mapping JSON file (defaults to SPOT_MAPPING_FILE)")
	export := flag.Bool("export", false, "write the stored layout to the files instead of importing them")
	dryRun := flag.Bool("dry-run", false, "validate the files without writing to the database")
	pruneDays := flag.Int("prune-days", 0, "also delete occupancy events older than this many days")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *spotsFile == "" {
		*spotsFile = cfg.Spots.File
	}
	if *mappingFile == "" {
		*mappingFile = cfg.Spots.MappingFile
	}

	log := logger.New(cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	source := registry.NewFileSource(*spotsFile, *mappingFile)
	if *dryRun {
		if _, _, err := readLayout(ctx, source); err != nil {
			log.Fatal().Err(err).Msg("layout is invalid")
		}
		log.Info().Str("spots", *spotsFile).Msg("layout is valid")
		return
	}

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	repo := repository.NewParkingRepository(database)

	if *export {
		if err := exportLayout(ctx, repo, *spotsFile, *mappingFile, log); err != nil {
			log.Fatal().Err(err).Msg("failed to export layout")
		}
	} else {
		if err := importLayout(ctx, repo, source, log); err != nil {
			log.Fatal().Err(err).Msg("failed to import layout")
		}
	}

	if *pruneDays > 0 {
		deleted, err := service.NewParkingService(repo, log).CleanupOldEvents(ctx, *pruneDays)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prune events")
		}
		log.Info().Int64("deleted", deleted).Int("days", *pruneDays).Msg("old events pruned")
	}
}

func readLayout(ctx context.Context, source *registry.FileSource) ([]repository.ParkingSpace, []int, error) {
	layout, err := source.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.Validate(&layout); err != nil {
		return nil, nil, err
	}
	spaces, unmapped := registry.SpacesFromLayout(layout)
	return spaces, unmapped, nil
}

func importLayout(ctx context.Context, repo *repository.ParkingRepository, source *registry.FileSource, log zerolog.Logger) error {
	spaces, unmapped, err := readLayout(ctx, source)
	if err != nil {
		return err
	}
	for _, id := range unmapped {
		log.Warn().Int("spot_id", id).Msg("spot has no mapped space code, not imported")
	}
	if err := repo.UpsertSpaces(ctx, spaces); err != nil {
		return err
	}
	log.Info().
		Int("imported", len(spaces)).
		Int("unmapped", len(unmapped)).
		Msg("spot layout imported")
	return nil
}

func exportLayout(ctx context.Context, repo *repository.ParkingRepository, spotsFile, mappingFile string, log zerolog.Logger) error {
	layout, err := registry.NewStoreSource(repo).Load(ctx)
	if err != nil {
		return err
	}
	if len(layout.Spots) == 0 {
		return fmt.Errorf("no parking spaces with geometry in the database")
	}
	if err := registry.WriteSpotsFile(spotsFile, layout.Spots); err != nil {
		return err
	}
	if err := registry.WriteMappingFile(mappingFile, layout.Mapping); err != nil {
		return err
	}
	log.Info().
		Int("spots", len(layout.Spots)).
		Str("spots_file", spotsFile).
		Str("mapping_file", mappingFile).
		Msg("spot layout exported")
	return nil
}
