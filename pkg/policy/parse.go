package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Constraint left operands and operators recognized by the classifier.
const (
	OperandElapsedTime    = "ELAPSED_TIME"
	OperandEvaluationTime = "POLICY_EVALUATION_TIME"
	OperandCount          = "COUNT"
	OperandConnector      = "CONNECTOR"
	OperandProfile        = "SECURITY_PROFILE"
	OperandExpression     = "EXPRESSION"

	OperatorShorterEq = "SHORTER_EQ"
	OperatorAfter     = "AFTER"
	OperatorBefore    = "BEFORE"
	OperatorLtEq      = "LTEQ"
	OperatorIn        = "IN"
	OperatorGtEq      = "GTEQ"
	OperatorCel       = "CEL"
)

// Rule document types.
const (
	docPermission  = "ids:Permission"
	docProhibition = "ids:Prohibition"
)

// ParseError reports an unrecognized or self-contradictory rule
// definition, naming the clauses involved. Parsing never silently
// defaults to unrestricted use.
type ParseError struct {
	Reason  string
	Clauses []string
}

func (e *ParseError) Error() string {
	if len(e.Clauses) == 0 {
		return "policy: unparsable rule definition: " + e.Reason
	}
	return fmt.Sprintf("policy: unparsable rule definition: %s (clauses: %s)",
		e.Reason, strings.Join(e.Clauses, ", "))
}

const ruleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["@type", "action"],
  "properties": {
    "@type": {"enum": ["ids:Permission", "ids:Prohibition"]},
    "action": {"type": "string"},
    "constraint": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["leftOperand", "operator", "rightOperand"],
        "properties": {
          "leftOperand": {"type": "string"},
          "operator": {"type": "string"}
        }
      }
    }
  }
}`

var ruleSchema = jsonschema.MustCompileString(
	"https://datasphere-labs.github.io/connector/rule.schema.json", ruleSchemaJSON)

type ruleDocument struct {
	Type       string           `json:"@type"`
	Action     string           `json:"action"`
	Constraint []ruleConstraint `json:"constraint"`
}

type ruleConstraint struct {
	LeftOperand  string          `json:"leftOperand"`
	Operator     string          `json:"operator"`
	RightOperand json.RawMessage `json:"rightOperand"`
}

func (c ruleConstraint) String() string {
	return c.LeftOperand + " " + c.Operator
}

// Parse classifies a rule definition into its single pattern kind by
// structural signature and constructs the typed instance. Pure and
// deterministic: re-parsing the same definition yields an identical
// pattern.
func Parse(definition []byte) (*Pattern, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(definition))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, &ParseError{Reason: "not a JSON document"}
	}
	if err := ruleSchema.Validate(generic); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	var doc ruleDocument
	if err := json.Unmarshal(definition, &doc); err != nil {
		return nil, &ParseError{Reason: "document decode failed"}
	}

	if doc.Type == docProhibition {
		if len(doc.Constraint) > 0 {
			return nil, &ParseError{
				Reason:  "prohibition carries constraints",
				Clauses: clauseNames(doc.Constraint),
			}
		}
		return &Pattern{Kind: KindProhibitAccess}, nil
	}

	if len(doc.Constraint) == 0 {
		return &Pattern{Kind: KindProvideAccess}, nil
	}

	// Group constraints by left operand; the combination determines the
	// pattern kind. More than one operand family is contradictory except
	// for the two bounds of an interval.
	byOperand := make(map[string][]ruleConstraint)
	for _, c := range doc.Constraint {
		byOperand[c.LeftOperand] = append(byOperand[c.LeftOperand], c)
	}
	operands := make([]string, 0, len(byOperand))
	for op := range byOperand {
		operands = append(operands, op)
	}
	sort.Strings(operands)

	if len(operands) > 1 {
		return nil, &ParseError{
			Reason:  "conflicting constraint families",
			Clauses: clauseNames(doc.Constraint),
		}
	}

	clauses := byOperand[operands[0]]
	switch operands[0] {
	case OperandElapsedTime:
		return parseDuration(clauses)
	case OperandEvaluationTime:
		return parseInterval(clauses)
	case OperandCount:
		return parseUsageCount(clauses)
	case OperandConnector:
		return parseConnectorRestriction(clauses)
	case OperandProfile:
		return parseProfileRestriction(clauses)
	case OperandExpression:
		return parseCustomConstraint(clauses)
	}

	return nil, &ParseError{
		Reason:  "unrecognized constraint operand",
		Clauses: clauseNames(doc.Constraint),
	}
}

func clauseNames(cs []ruleConstraint) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.String()
	}
	sort.Strings(names)
	return names
}

func singleClause(clauses []ruleConstraint, operator string) (ruleConstraint, *ParseError) {
	if len(clauses) != 1 {
		return ruleConstraint{}, &ParseError{
			Reason:  "duplicate constraint clause",
			Clauses: clauseNames(clauses),
		}
	}
	c := clauses[0]
	if c.Operator != operator {
		return ruleConstraint{}, &ParseError{
			Reason:  fmt.Sprintf("operator %q not valid for %s", c.Operator, c.LeftOperand),
			Clauses: clauseNames(clauses),
		}
	}
	return c, nil
}

func stringOperand(c ruleConstraint) (string, *ParseError) {
	var s string
	if err := json.Unmarshal(c.RightOperand, &s); err != nil {
		return "", &ParseError{Reason: "right operand is not a string", Clauses: []string{c.String()}}
	}
	return s, nil
}

func parseDuration(clauses []ruleConstraint) (*Pattern, error) {
	c, perr := singleClause(clauses, OperatorShorterEq)
	if perr != nil {
		return nil, perr
	}
	raw, perr := stringOperand(c)
	if perr != nil {
		return nil, perr
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid duration %q", raw), Clauses: []string{c.String()}}
	}
	return &Pattern{Kind: KindDuration, Duration: d}, nil
}

func parseInterval(clauses []ruleConstraint) (*Pattern, error) {
	var notBefore, notAfter time.Time
	var haveStart, haveEnd bool
	for _, c := range clauses {
		raw, perr := stringOperand(c)
		if perr != nil {
			return nil, perr
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("invalid timestamp %q", raw), Clauses: []string{c.String()}}
		}
		switch c.Operator {
		case OperatorAfter:
			if haveStart {
				return nil, &ParseError{Reason: "duplicate interval start", Clauses: clauseNames(clauses)}
			}
			notBefore, haveStart = ts, true
		case OperatorBefore:
			if haveEnd {
				return nil, &ParseError{Reason: "duplicate interval end", Clauses: clauseNames(clauses)}
			}
			notAfter, haveEnd = ts, true
		default:
			return nil, &ParseError{
				Reason:  fmt.Sprintf("operator %q not valid for %s", c.Operator, OperandEvaluationTime),
				Clauses: []string{c.String()},
			}
		}
	}
	if !haveStart || !haveEnd {
		return nil, &ParseError{Reason: "interval needs both bounds", Clauses: clauseNames(clauses)}
	}
	if !notBefore.Before(notAfter) {
		return nil, &ParseError{Reason: "interval start not before end", Clauses: clauseNames(clauses)}
	}
	return &Pattern{Kind: KindInterval, NotBefore: notBefore, NotAfter: notAfter}, nil
}

func parseUsageCount(clauses []ruleConstraint) (*Pattern, error) {
	c, perr := singleClause(clauses, OperatorLtEq)
	if perr != nil {
		return nil, perr
	}
	var n json.Number
	if err := json.Unmarshal(c.RightOperand, &n); err != nil {
		return nil, &ParseError{Reason: "count is not a number", Clauses: []string{c.String()}}
	}
	max, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || max <= 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid count %q", n.String()), Clauses: []string{c.String()}}
	}
	return &Pattern{Kind: KindUsageCount, MaxCount: max}, nil
}

func parseConnectorRestriction(clauses []ruleConstraint) (*Pattern, error) {
	c, perr := singleClause(clauses, OperatorIn)
	if perr != nil {
		return nil, perr
	}
	var ids []string
	if err := json.Unmarshal(c.RightOperand, &ids); err != nil {
		// A single connector id may appear as a bare string.
		single, perr := stringOperand(c)
		if perr != nil {
			return nil, &ParseError{Reason: "connector list is not a string array", Clauses: []string{c.String()}}
		}
		ids = []string{single}
	}
	if len(ids) == 0 {
		return nil, &ParseError{Reason: "empty connector list", Clauses: []string{c.String()}}
	}
	sort.Strings(ids)
	return &Pattern{Kind: KindConnectorRestricted, AllowedConnectors: ids}, nil
}

func parseProfileRestriction(clauses []ruleConstraint) (*Pattern, error) {
	c, perr := singleClause(clauses, OperatorGtEq)
	if perr != nil {
		return nil, perr
	}
	raw, perr := stringOperand(c)
	if perr != nil {
		return nil, perr
	}
	p := Profile(raw)
	if _, ok := profileRank[p]; !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown security profile %q", raw), Clauses: []string{c.String()}}
	}
	return &Pattern{Kind: KindSecurityProfile, RequiredProfile: p}, nil
}

func parseCustomConstraint(clauses []ruleConstraint) (*Pattern, error) {
	c, perr := singleClause(clauses, OperatorCel)
	if perr != nil {
		return nil, perr
	}
	expr, perr := stringOperand(c)
	if perr != nil {
		return nil, perr
	}
	prog, err := compileExpression(expr)
	if err != nil {
		return nil, &ParseError{Reason: err.Error(), Clauses: []string{c.String()}}
	}
	return &Pattern{Kind: KindCustom, Expression: expr, program: prog}, nil
}
