package objects

import (
	"fmt"

	"github.com/google/uuid"
)

// Document is the JSON-compatible projection of an entity.
type Document map[string]any

// Serialize projects entity into its variant-specific document.
func Serialize(entity Entity) (Document, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrUnsupportedKind)
	}
	v, ok := variants[entity.Kind()]
	if !ok || v.serialize == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, entity.Kind())
	}
	document, ok := v.serialize(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not carry kind %s", ErrUnsupportedKind, entity, entity.Kind())
	}
	return document, nil
}

func serializeTag(entity Entity) (Document, bool) {
	tag, ok := entity.(Tag)
	if !ok {
		return nil, false
	}
	return Document{
		"id":   tag.ID.String(),
		"name": tag.Name,
		"type": string(KindTag),
	}, true
}

func serializeRawLocation(entity Entity) (Document, bool) {
	raw, ok := entity.(RawLocation)
	if !ok {
		return nil, false
	}
	return Document{
		"id":        raw.ID.String(),
		"address":   raw.Address,
		"ephemeral": true,
		"type":      string(KindRawLocation),
	}, true
}

func serializeLocation(entity Entity) (Document, bool) {
	location, ok := entity.(Location)
	if !ok {
		return nil, false
	}
	return Document{
		"id":        location.ID.String(),
		"address":   location.Address,
		"name":      location.Name,
		"ephemeral": false,
		"tags":      idStrings(location.Tags),
		"photos":    nonNilStrings(location.Photos),
		"type":      string(KindLocation),
	}, true
}

func serializeEvent(entity Entity) (Document, bool) {
	event, ok := entity.(Event)
	if !ok {
		return nil, false
	}
	return Document{
		"id":       event.ID.String(),
		"name":     event.Name,
		"location": event.RawLocationID.String(),
		"tags":     idStrings(event.Tags),
		"photos":   nonNilStrings(event.Photos),
		"type":     string(KindEvent),
	}, true
}

func serializePhoto(entity Entity) (Document, bool) {
	photo, ok := entity.(Photo)
	if !ok {
		return nil, false
	}
	return Document{
		"id":       photo.ID.String(),
		"photourl": photo.URL,
		"type":     string(KindPhoto),
	}, true
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
