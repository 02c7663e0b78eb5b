// Property-based tests for the canonical encoder.
package canonical

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: canonical(parse(canonical(v))) == canonical(v) for JSON-shaped v.
func TestCanonicalFixedPointProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("re-encoding parsed canonical bytes is a fixed point", prop.ForAll(
		func(keys []string, strs []string, ints []int64) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys); i++ {
				if keys[i] == "" {
					continue
				}
				switch i % 3 {
				case 0:
					if i < len(strs) {
						obj[keys[i]] = strs[i]
					}
				case 1:
					if i < len(ints) {
						obj[keys[i]] = ints[i]
					}
				default:
					obj[keys[i]] = []any{true, nil, keys[i]}
				}
			}

			first, err := Marshal(obj)
			if err != nil {
				return false
			}
			var parsed any
			dec := json.NewDecoder(strings.NewReader(string(first)))
			dec.UseNumber()
			if err := dec.Decode(&parsed); err != nil {
				return false
			}
			second, err := Marshal(parsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.Property("digest is deterministic", prop.ForAll(
		func(a, b string) bool {
			v := map[string]any{"a": a, "b": b}
			d1, err1 := ContentDigest(v)
			d2, err2 := ContentDigest(v)
			return err1 == nil && err2 == nil && d1 == d2
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
