// Package reward classifies lucky wheel reward items and aggregates them
// into a per-category ledger.
package reward

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a reward payload or item that could not be read.
var ErrMalformed = errors.New("malformed reward payload")

// Item is one [type_tag, data] pair from an action reply. Data holds the
// decoded JSON value with numbers kept as json.Number.
type Item struct {
	Tag  string
	Data any
}

// ParseItems decodes the "R" array of an action reply payload. Entries that
// are not [tag, data] pairs are skipped; the returned error describes them
// alongside whatever items could be read.
func ParseItems(payload []byte) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, ok := body["R"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: no reward list", ErrMalformed)
	}

	items := make([]Item, 0, len(raw))
	var errs []error
	for i, entry := range raw {
		pair, ok := entry.([]any)
		if !ok || len(pair) < 2 {
			errs = append(errs, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, entry))
			continue
		}
		tag, ok := pair[0].(string)
		if !ok {
			tag = fmt.Sprint(pair[0])
		}
		items = append(items, Item{Tag: tag, Data: pair[1]})
	}
	return items, errors.Join(errs...)
}

// intValue reports v as an integer when it is a JSON integer.
func intValue(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// tuple reports v as a JSON array.
func tuple(v any) ([]any, bool) {
	t, ok := v.([]any)
	return t, ok
}
