package objects

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opSeed = "objects.seed"

//go:embed fixtures/suggestions.json
var bundledFixtures []byte

// TagFixture is a tag entry of the fixture document.
type TagFixture struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LocationFixture is either a bare address (Ephemeral) or a curated location.
type LocationFixture struct {
	ID          string   `json:"id"`
	RawLocation string   `json:"rawlocation,omitempty"`
	Name        string   `json:"name,omitempty"`
	Address     string   `json:"address"`
	Ephemeral   bool     `json:"ephemeral"`
	Tags        []string `json:"tags,omitempty"`
	Photos      []string `json:"photos,omitempty"`
}

// EventFixture names its venue by a location fixture identifier.
type EventFixture struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location string   `json:"location"`
	Tags     []string `json:"tags,omitempty"`
	Photos   []string `json:"photos,omitempty"`
}

// Fixtures is the document loaded into an empty or partially seeded database.
type Fixtures struct {
	Tags      map[string]TagFixture      `json:"tags"`
	Locations map[string]LocationFixture `json:"locations"`
	Events    map[string]EventFixture    `json:"events"`
}

// SeedReport counts the fixture entries inserted and skipped as duplicates.
type SeedReport struct {
	Created int
	Skipped int
}

// LoadFixtures decodes a fixture document.
func LoadFixtures(data []byte) (Fixtures, error) {
	var fixtures Fixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return fixtures, nil
}

// BundledFixtures returns the demonstration data shipped with the binary.
func BundledFixtures() (Fixtures, error) {
	return LoadFixtures(bundledFixtures)
}

// Seed inserts fixtures inside one transaction. Each entry gets its own
// savepoint so an entry that already exists is skipped without aborting the rest.
func (s *Store) Seed(ctx context.Context, fixtures Fixtures) (SeedReport, error) {
	var report SeedReport
	err := s.transact(ctx, opSeed, func(tx *gorm.DB) error {
		scoped := s.WithTx(tx)
		venues := make(map[string]uuid.UUID, len(fixtures.Locations))

		for _, key := range sortedKeys(fixtures.Tags) {
			fixture := fixtures.Tags[key]
			id, err := ParseID(fixture.ID)
			if err != nil {
				return fmt.Errorf("tag fixture %q: %w", key, err)
			}
			_, err = scoped.CreateTag(ctx, Tag{ID: id, Name: fixture.Name})
			if err := scoped.tally(&report, err, "tag", fixture.ID); err != nil {
				return err
			}
		}

		for _, key := range sortedKeys(fixtures.Locations) {
			fixture := fixtures.Locations[key]
			rawID, err := scoped.seedLocation(ctx, fixture)
			if err := scoped.tally(&report, err, "location", fixture.ID); err != nil {
				return err
			}
			if rawID != uuid.Nil {
				venues[fixture.ID] = rawID
			}
		}

		for _, key := range sortedKeys(fixtures.Events) {
			fixture := fixtures.Events[key]
			err := scoped.seedEvent(ctx, fixture, venues)
			if err := scoped.tally(&report, err, "event", fixture.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	s.loggerOrDefault().Info("fixtures loaded",
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// seedLocation returns the raw location backing the fixture even when the
// fixture itself is skipped, so events can still reference it.
func (s *Store) seedLocation(ctx context.Context, fixture LocationFixture) (uuid.UUID, error) {
	id, err := ParseID(fixture.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("location fixture %q: %w", fixture.ID, err)
	}
	if fixture.Ephemeral {
		_, err := s.CreateRawLocation(ctx, RawLocation{ID: id, Address: fixture.Address})
		return id, err
	}

	rawID, err := ParseID(fixture.RawLocation)
	if err != nil {
		return uuid.Nil, fmt.Errorf("location fixture %q rawlocation: %w", fixture.ID, err)
	}
	tags, err := parseIDs(fixture.Tags)
	if err != nil {
		return uuid.Nil, fmt.Errorf("location fixture %q tags: %w", fixture.ID, err)
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		item := s.WithTx(tx)
		if _, err := item.CreateRawLocation(ctx, RawLocation{ID: rawID, Address: fixture.Address}); err != nil && !errors.Is(err, ErrDuplicate) {
			return err
		}
		_, err := item.CreateLocation(ctx, Location{
			ID:            id,
			Name:          fixture.Name,
			RawLocationID: rawID,
			Tags:          tags,
			Photos:        fixture.Photos,
		})
		return err
	})
	return rawID, err
}

func (s *Store) seedEvent(ctx context.Context, fixture EventFixture, venues map[string]uuid.UUID) error {
	id, err := ParseID(fixture.ID)
	if err != nil {
		return fmt.Errorf("event fixture %q: %w", fixture.ID, err)
	}
	venue, ok := venues[fixture.Location]
	if !ok {
		if venue, err = ParseID(fixture.Location); err != nil {
			return fmt.Errorf("event fixture %q location: %w", fixture.ID, err)
		}
	}
	tags, err := parseIDs(fixture.Tags)
	if err != nil {
		return fmt.Errorf("event fixture %q tags: %w", fixture.ID, err)
	}
	_, err = s.CreateEvent(ctx, Event{
		ID:            id,
		Name:          fixture.Name,
		RawLocationID: venue,
		Tags:          tags,
		Photos:        fixture.Photos,
	})
	return err
}

func (s *Store) tally(report *SeedReport, err error, kind, id string) error {
	switch {
	case err == nil:
		report.Created++
		return nil
	case errors.Is(err, ErrDuplicate):
		report.Skipped++
		s.loggerOrDefault().Debug("skipping duplicate fixture", zap.String("kind", kind), zap.String("id", id))
		return nil
	default:
		return err
	}
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := ParseID(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func sortedKeys[V any](entries map[string]V) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
