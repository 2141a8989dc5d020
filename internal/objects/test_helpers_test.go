package objects

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/testutil"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database:   testutil.OpenDatabase(t),
		IDProvider: NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustCreateTag(t *testing.T, store *Store, name string) Tag {
	t.Helper()
	tag, err := store.CreateTag(context.Background(), Tag{Name: name})
	if err != nil {
		t.Fatalf("create tag %q: %v", name, err)
	}
	return tag
}

func mustCreateRawLocation(t *testing.T, store *Store, address string) RawLocation {
	t.Helper()
	raw, err := store.CreateRawLocation(context.Background(), RawLocation{Address: address})
	if err != nil {
		t.Fatalf("create raw location %q: %v", address, err)
	}
	return raw
}

func mustCreatePhoto(t *testing.T, store *Store, url string) Photo {
	t.Helper()
	photo, err := store.CreatePhoto(context.Background(), url)
	if err != nil {
		t.Fatalf("create photo %q: %v", url, err)
	}
	return photo
}

func mustCreateLocation(t *testing.T, store *Store, name string, raw RawLocation, tags ...uuid.UUID) Location {
	t.Helper()
	location, err := store.CreateLocation(context.Background(), Location{
		Name:          name,
		RawLocationID: raw.ID,
		Tags:          tags,
	})
	if err != nil {
		t.Fatalf("create location %q: %v", name, err)
	}
	return location
}

func mustCreateEvent(t *testing.T, store *Store, name string, raw RawLocation, tags ...uuid.UUID) Event {
	t.Helper()
	event, err := store.CreateEvent(context.Background(), Event{
		Name:          name,
		RawLocationID: raw.ID,
		Tags:          tags,
	})
	if err != nil {
		t.Fatalf("create event %q: %v", name, err)
	}
	return event
}
