package savefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Codec converts between raw save bytes and Save values.
// Decoding upgrades legacy encodings, validates the result against the current
// schema and resolves every universe reference against the catalog.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	catalog Catalog
	clock   Clock
	idgen   IDGenerator
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock sets the clock used for the default timestamp of legacy saves.
func WithClock(clock Clock) Option {
	return func(c *Codec) { c.clock = clock }
}

// WithIDGenerator sets the generator used for the default uuid of legacy saves.
func WithIDGenerator(idgen IDGenerator) Option {
	return func(c *Codec) { c.idgen = idgen }
}

// NewCodec creates a Codec validating references against catalog.
func NewCodec(catalog Catalog, opts ...Option) *Codec {
	c := &Codec{
		catalog: catalog,
		clock:   RealClock{},
		idgen:   UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decodeOptions struct {
	defaultUUID string
}

// DecodeOption tunes a single Decode call.
type DecodeOption func(*decodeOptions)

// WithDefaultUUID sets the uuid given to saves written before the uuid field
// existed. Storage engines pass the file name stem.
func WithDefaultUUID(id string) DecodeOption {
	return func(o *decodeOptions) { o.defaultUUID = id }
}

// Decode parses raw bytes into a Save. Every failure is a *DecodeError.
func (c *Codec) Decode(raw []byte, opts ...DecodeOption) (Save, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := parseDocument(raw)
	if err != nil {
		return Save{}, err
	}

	if err := applyUpgrades(doc, c.catalog); err != nil {
		return Save{}, err
	}
	if err := c.applyDefaults(doc, o); err != nil {
		return Save{}, err
	}

	migrated, err := json.Marshal(doc)
	if err != nil {
		return Save{}, schemaError("", "re-encoding migrated save: %v", err)
	}

	var s Save
	if err := json.Unmarshal(migrated, &s); err != nil {
		return Save{}, schemaErrorFromJSON(err)
	}
	s.PlayerLocation = s.PlayerLocation.normalized()
	for id, loc := range s.ShipLocations {
		s.ShipLocations[id] = loc.normalized()
	}

	if err := c.Check(s); err != nil {
		return Save{}, err
	}
	return s, nil
}

// Check runs the same structural and reference checks as Decode on a save
// that is already in memory. Storage engines call it before writing so that
// nothing is stored that a later read would reject.
func (c *Codec) Check(s Save) error {
	missions, err := s.validate()
	if err != nil {
		return err
	}
	for _, ref := range s.references(missions) {
		if !c.catalog.Resolves(ref.id) {
			return unresolved(ref.field, ref.id)
		}
	}
	return nil
}

// Encode serialises a save in the current format. The save must pass Validate;
// there is no way to write a legacy encoding.
func (c *Codec) Encode(s Save) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.ShipLocations == nil {
		s.ShipLocations = map[string]Location{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding save %s: %w", s.UUID, err)
	}
	return data, nil
}

// parseDocument reads raw bytes into a generic JSON object, keeping numbers
// as json.Number so that re-encoding preserves their text.
func parseDocument(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidJSON(errors.New("empty document"))
		}
		return nil, invalidJSON(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalidJSON(errors.New("trailing data after document"))
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, schemaError("", "save must be a JSON object, got %T", v)
	}
	return doc, nil
}

// applyDefaults fills fields that were added after the format was introduced.
func (c *Codec) applyDefaults(doc map[string]any, o decodeOptions) error {
	if id, _ := doc["uuid"].(string); id == "" {
		if o.defaultUUID != "" {
			doc["uuid"] = o.defaultUUID
		} else {
			doc["uuid"] = c.idgen.New()
		}
	}

	switch ts := doc["timestamp"].(type) {
	case nil:
		doc["timestamp"] = json.Number(strconv.FormatInt(c.clock.Now().UnixMilli(), 10))
	case json.Number:
		// Older clients occasionally wrote integral timestamps in float notation.
		if _, err := ts.Int64(); err != nil {
			f, ferr := ts.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return schemaError("timestamp", "not an integer: %s", ts)
			}
			doc["timestamp"] = json.Number(strconv.FormatInt(int64(f), 10))
		}
	}

	if doc["shipLocations"] == nil {
		doc["shipLocations"] = map[string]any{}
	}
	return nil
}

func schemaErrorFromJSON(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return schemaError(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	return schemaError("", "%v", err)
}
