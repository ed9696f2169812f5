//go:build property
// +build property

package policy

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestParseDeterminismProperty verifies that for generated rule
// definitions, two parses yield identical pattern fingerprints.
func TestParseDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("usage-count definitions parse identically", prop.ForAll(
		func(max int64) bool {
			if max <= 0 {
				return true
			}
			def, _ := json.Marshal(map[string]any{
				"@type":  "ids:Permission",
				"action": "USE",
				"constraint": []map[string]any{
					{"leftOperand": OperandCount, "operator": OperatorLtEq, "rightOperand": max},
				},
			})
			first, err1 := Parse(def)
			second, err2 := Parse(def)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			fp1, _ := first.Fingerprint()
			fp2, _ := second.Fingerprint()
			return fp1 == fp2 && first.MaxCount == max
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("connector lists parse identically regardless of order", prop.ForAll(
		func(ids []string) bool {
			if len(ids) == 0 {
				return true
			}
			def, _ := json.Marshal(map[string]any{
				"@type":  "ids:Permission",
				"action": "USE",
				"constraint": []map[string]any{
					{"leftOperand": OperandConnector, "operator": OperatorIn, "rightOperand": ids},
				},
			})
			first, err1 := Parse(def)
			second, err2 := Parse(def)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			fp1, _ := first.Fingerprint()
			fp2, _ := second.Fingerprint()
			return fp1 == fp2
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
