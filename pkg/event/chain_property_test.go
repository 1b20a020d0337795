//go:build property
// +build property

// Property-based tests for canonicalization and the hash chain.
package event_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hiveforge-labs/hiveforge/pkg/canonicalize"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// TestCanonicalHashDeterminism verifies the canonical hash is stable.
// Property: CanonicalHash(obj) == CanonicalHash(obj) for any obj
func TestCanonicalHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Canonical hash is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			h1, err1 := canonicalize.CanonicalHash(obj)
			h2, err2 := canonicalize.CanonicalHash(obj)

			if err1 != nil && err2 != nil {
				return true
			}
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalFormKeyOrderInsensitive verifies insertion order never
// changes the canonical form.
func TestCanonicalFormKeyOrderInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Key insertion order does not affect the canonical form", prop.ForAll(
		func(a, b, c string) bool {
			forward := map[string]any{"alpha": a, "beta": b, "gamma": c}
			reverse := make(map[string]any)
			reverse["gamma"] = c
			reverse["beta"] = b
			reverse["alpha"] = a

			s1, err1 := canonicalize.JCSString(forward)
			s2, err2 := canonicalize.JCSString(reverse)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return s1 == s2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestSealDeterminism verifies sealing the same event content with the
// same predecessor always derives the same hash.
func TestSealDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	properties.Property("Sealing is deterministic", prop.ForAll(
		func(actor, value, prevHash string) bool {
			build := func() (*event.Event, error) {
				return event.New("task.completed", actor,
					map[string]any{"value": value},
					event.WithRunID("run-prop"),
					event.WithID("fixed-id"),
					event.WithTimestamp(ts))
			}

			e1, err1 := build()
			e2, err2 := build()
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			if e1.Seal(prevHash) != nil || e2.Seal(prevHash) != nil {
				return false
			}
			return e1.Hash == e2.Hash && e1.PrevHash == prevHash
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestSealedHashAlwaysVerifies verifies ComputeHash reproduces the
// sealed hash for any payload.
func TestSealedHashAlwaysVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Sealed hash matches a fresh derivation", prop.ForAll(
		func(keys []string, values []string) bool {
			payload := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					payload[keys[i]] = values[i]
				}
			}

			e, err := event.New("task.completed", "worker_bee", payload,
				event.WithRunID("run-prop"))
			if err != nil {
				return true
			}
			if err := e.Seal(""); err != nil {
				return false
			}

			derived, err := e.ComputeHash()
			if err != nil {
				return false
			}
			return derived == e.Hash
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestPayloadMutationBreaksHash verifies any payload change after
// sealing is detectable.
func TestPayloadMutationBreaksHash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Mutating a sealed payload changes the derived hash", prop.ForAll(
		func(before, after string) bool {
			if before == after {
				return true
			}

			e, err := event.New("task.completed", "worker_bee",
				map[string]any{"value": before},
				event.WithRunID("run-prop"))
			if err != nil {
				return true
			}
			if err := e.Seal(""); err != nil {
				return false
			}

			e.Payload["value"] = after
			derived, err := e.ComputeHash()
			if err != nil {
				return false
			}
			return derived != e.Hash
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestParseRoundTrip verifies Marshal then Parse preserves the sealed
// hash and payload identity.
func TestParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Marshalled events parse back with an intact hash", prop.ForAll(
		func(value string) bool {
			e, err := event.New("task.completed", "worker_bee",
				map[string]any{"value": value},
				event.WithRunID("run-prop"))
			if err != nil {
				return true
			}
			if err := e.Seal("abc"); err != nil {
				return false
			}

			line, err := e.Marshal()
			if err != nil {
				return false
			}
			parsed, err := event.Parse(line)
			if err != nil {
				return false
			}

			derived, err := parsed.ComputeHash()
			if err != nil {
				return false
			}
			return parsed.Hash == e.Hash && derived == parsed.Hash
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
