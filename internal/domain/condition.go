package domain

import (
	"errors"
	"fmt"
	"reflect"
)

var ErrInvalidCondition = errors.New("invalid condition")

// Operator is a comparison applied to a single payload field.
type Operator string

const (
	OpEquals       Operator = "$eq"
	OpGreaterThan  Operator = "$gt"
	OpGreaterEqual Operator = "$gte"
	OpLessThan     Operator = "$lt"
	OpLessEqual    Operator = "$lte"
	OpNotEquals    Operator = "$ne"
	OpIn           Operator = "$in"
)

// Condition is one parsed comparison: payload[Field] <Op> Value.
type Condition struct {
	Field string
	Op    Operator
	Value interface{}
}

// ConditionSet is a conjunction of conditions. An empty set matches
// every payload.
type ConditionSet []Condition

// ParseConditions turns the stored condition map into a typed set.
// A map value is either a literal (exact equality) or an operator
// expression such as {"$gt": 50}. Unknown operators and non-array $in
// operands are rejected here so matching never has to interpret raw maps.
func ParseConditions(raw map[string]interface{}) (ConditionSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	set := make(ConditionSet, 0, len(raw))
	for field, value := range raw {
		expr, ok := value.(map[string]interface{})
		if !ok {
			set = append(set, Condition{Field: field, Op: OpEquals, Value: value})
			continue
		}

		for op, operand := range expr {
			switch Operator(op) {
			case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpNotEquals:
				set = append(set, Condition{Field: field, Op: Operator(op), Value: operand})
			case OpIn:
				if _, isList := operand.([]interface{}); !isList {
					return nil, fmt.Errorf("%w: $in operand for %q must be an array", ErrInvalidCondition, field)
				}
				set = append(set, Condition{Field: field, Op: OpIn, Value: operand})
			default:
				return nil, fmt.Errorf("%w: unknown operator %q for field %q", ErrInvalidCondition, op, field)
			}
		}
	}

	return set, nil
}

// Matches reports whether every condition in the set holds for the payload.
func (s ConditionSet) Matches(payload map[string]interface{}) bool {
	for _, c := range s {
		if !c.matches(payload[c.Field]) {
			return false
		}
	}
	return true
}

func (c Condition) matches(actual interface{}) bool {
	switch c.Op {
	case OpEquals:
		return valuesEqual(actual, c.Value)
	case OpNotEquals:
		return !valuesEqual(actual, c.Value)
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGreaterThan:
			return a > b
		case OpGreaterEqual:
			return a >= b
		case OpLessThan:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		list, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range list {
			if valuesEqual(actual, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MetadataMatches checks auto-approval conditions against event metadata.
// Only exact equality is supported here: auto-approval is about who
// triggered the event, not what the payload contains.
func MetadataMatches(conditions, metadata map[string]interface{}) bool {
	for key, want := range conditions {
		if !valuesEqual(metadata[key], want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two payload values, treating all numeric types as
// equivalent so that a rule stored with 50 matches a payload decoded
// with float64(50).
func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
