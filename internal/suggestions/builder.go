// Package suggestions assembles the shuffled suggestion feed served to clients.
package suggestions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"go.uber.org/zap"
)

const (
	// SectionLocations labels order entries that point into Suggestions.Locations.
	SectionLocations = "locations"
	// SectionEvents labels order entries that point into Suggestions.Events.
	SectionEvents = "events"
)

var errMissingSource = errors.New("suggestion source is required")

// Source is the read side of the entity store the builder draws from.
type Source interface {
	ListLocations(ctx context.Context, limit int) ([]objects.Location, error)
	ListEvents(ctx context.Context, limit int) ([]objects.Event, error)
	Tags(ctx context.Context, ids []uuid.UUID) ([]objects.Tag, error)
	Venues(ctx context.Context, rawIDs []uuid.UUID) (map[uuid.UUID]objects.Entity, error)
}

// ShuffleFunc permutes n items in place through swap.
type ShuffleFunc func(n int, swap func(i, j int))

// Config describes the dependencies of a Builder.
type Config struct {
	Source  Source
	Shuffle ShuffleFunc
	Logger  *zap.Logger
}

// OrderEntry points at one item of the Locations or Events section.
type OrderEntry struct {
	Section string `json:"section"`
	ID      string `json:"id"`
}

// Suggestions is the aggregated feed. The maps are keyed by identifier and
// Order is the only carrier of display order.
type Suggestions struct {
	Locations map[string]objects.Document `json:"locations"`
	Events    map[string]objects.Document `json:"events"`
	Tags      map[string]objects.Document `json:"tags"`
	Order     []OrderEntry                `json:"order"`
}

// Builder produces Suggestions from a Source.
type Builder struct {
	source  Source
	shuffle ShuffleFunc
	logger  *zap.Logger
}

// NewBuilder constructs a Builder. A nil Shuffle selects a uniform random permutation.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	shuffle := cfg.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{source: cfg.Source, shuffle: shuffle, logger: logger}, nil
}

// Build fetches up to maxLocations curated locations and maxEvents events,
// gathers every referenced tag and event venue, and emits a shuffled order.
// A venue with a curated Location is served as that Location under the raw
// location id the event refers to.
func (b *Builder) Build(ctx context.Context, maxLocations, maxEvents int) (Suggestions, error) {
	locations, err := b.source.ListLocations(ctx, maxLocations)
	if err != nil {
		return Suggestions{}, fmt.Errorf("list locations: %w", err)
	}
	events, err := b.source.ListEvents(ctx, maxEvents)
	if err != nil {
		return Suggestions{}, fmt.Errorf("list events: %w", err)
	}

	result := Suggestions{
		Locations: make(map[string]objects.Document, len(locations)),
		Events:    make(map[string]objects.Document, len(events)),
		Tags:      map[string]objects.Document{},
		Order:     make([]OrderEntry, 0, len(locations)+len(events)),
	}
	feed := make([]objects.Document, 0, len(locations)+len(events))
	tagIDs := newIDSet()
	venueIDs := newIDSet()

	for _, location := range locations {
		document, err := objects.Serialize(location)
		if err != nil {
			return Suggestions{}, err
		}
		result.Locations[location.ID.String()] = document
		feed = append(feed, document)
		tagIDs.add(location.Tags...)
	}
	for _, event := range events {
		document, err := objects.Serialize(event)
		if err != nil {
			return Suggestions{}, err
		}
		result.Events[event.ID.String()] = document
		feed = append(feed, document)
		tagIDs.add(event.Tags...)
		venueIDs.add(event.RawLocationID)
	}

	venues, err := b.source.Venues(ctx, venueIDs.ids)
	if err != nil {
		return Suggestions{}, fmt.Errorf("load venues: %w", err)
	}
	for _, rawID := range venueIDs.ids {
		venue, ok := venues[rawID]
		if !ok {
			continue
		}
		if curated, ok := venue.(objects.Location); ok {
			tagIDs.add(curated.Tags...)
		}
		document, err := objects.Serialize(venue)
		if err != nil {
			return Suggestions{}, err
		}
		// events name their venue by raw location id
		result.Locations[rawID.String()] = document
	}

	tags, err := b.source.Tags(ctx, tagIDs.ids)
	if err != nil {
		return Suggestions{}, fmt.Errorf("load tags: %w", err)
	}
	for _, tag := range tags {
		document, err := objects.Serialize(tag)
		if err != nil {
			return Suggestions{}, err
		}
		result.Tags[tag.ID.String()] = document
	}

	b.shuffle(len(feed), func(i, j int) {
		feed[i], feed[j] = feed[j], feed[i]
	})
	for _, document := range feed {
		result.Order = append(result.Order, OrderEntry{
			Section: sectionFor(document),
			ID:      fmt.Sprint(document["id"]),
		})
	}

	b.logger.Debug("suggestions built",
		zap.Int("locations", len(locations)),
		zap.Int("events", len(events)),
		zap.Int("tags", len(result.Tags)),
		zap.Int("venues", len(venues)),
	)
	return result, nil
}

func sectionFor(document objects.Document) string {
	if document["type"] == string(objects.KindEvent) {
		return SectionEvents
	}
	return SectionLocations
}

type idSet struct {
	seen map[uuid.UUID]struct{}
	ids  []uuid.UUID
}

func newIDSet() *idSet {
	return &idSet{seen: map[uuid.UUID]struct{}{}}
}

func (s *idSet) add(ids ...uuid.UUID) {
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}
