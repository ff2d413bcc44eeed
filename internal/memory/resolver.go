package memory

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Resolver decides the surviving entry when two writes are concurrent
// (neither vector clock dominates the other). The returned entry's clock
// should cover both inputs; resolve merges them afterwards regardless.
type Resolver func(existing, incoming Entry) (Entry, error)

// LastWriterWins is the default resolution policy: the write with the later
// wall-clock timestamp survives.
func LastWriterWins(existing, incoming Entry) (Entry, error) {
	if incoming.WrittenAt.Before(existing.WrittenAt) {
		return existing, nil
	}
	return incoming, nil
}

// UnionResolver merges two JSON string-array values into their sorted set
// union. Intended for knowledge-base entries where concurrent writers each
// contribute facts. A value that is not a JSON string array fails the merge;
// the store surfaces that error to the writer rather than guessing a winner.
func UnionResolver(existing, incoming Entry) (Entry, error) {
	var a, b []string
	if err := json.Unmarshal(existing.Value, &a); err != nil {
		return Entry{}, fmt.Errorf("union resolver: existing value: %w", err)
	}
	if err := json.Unmarshal(incoming.Value, &b); err != nil {
		return Entry{}, fmt.Errorf("union resolver: incoming value: %w", err)
	}

	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}

	merged := make([]string, 0, len(set))
	for s := range set {
		merged = append(merged, s)
	}
	sort.Strings(merged)

	value, err := json.Marshal(merged)
	if err != nil {
		return Entry{}, fmt.Errorf("union resolver: marshal: %w", err)
	}

	out := incoming
	out.Value = value
	return out, nil
}
