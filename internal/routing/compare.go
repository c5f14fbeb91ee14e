package routing

import (
	"strings"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

// Compare applies a ConditionOperator between a resolved envelope field
// value and the rule-configured comparison value.
func Compare(actual envelope.Value, op dto.ConditionOperator, expected interface{}) bool {
	switch op {
	case dto.OpEQ:
		return equals(actual, expected)
	case dto.OpNEQ:
		return !equals(actual, expected)
	case dto.OpGT, dto.OpGTE, dto.OpLT, dto.OpLTE:
		return numericCompare(actual, op, expected)
	case dto.OpIn:
		return membership(actual, expected, true)
	case dto.OpNotIn:
		return membership(actual, expected, false)
	case dto.OpContains:
		return contains(actual, expected, true)
	case dto.OpNotContains:
		return contains(actual, expected, false)
	default:
		return false
	}
}

func equals(actual envelope.Value, expected interface{}) bool {
	switch e := expected.(type) {
	case string:
		return actual.Kind() == envelope.KindString && actual.String() == e
	case bool:
		b, ok := actual.Bool()
		return ok && b == e
	case float64:
		f, ok := actual.Float()
		return ok && f == e
	case int:
		f, ok := actual.Float()
		return ok && f == float64(e)
	default:
		return false
	}
}

func numericCompare(actual envelope.Value, op dto.ConditionOperator, expected interface{}) bool {
	af, ok := actual.Float()
	if !ok {
		return false
	}
	ef, ok := toFloat(expected)
	if !ok {
		return false
	}
	switch op {
	case dto.OpGT:
		return af > ef
	case dto.OpGTE:
		return af >= ef
	case dto.OpLT:
		return af < ef
	case dto.OpLTE:
		return af <= ef
	default:
		return false
	}
}

func toFloat(x interface{}) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func membership(actual envelope.Value, expected interface{}, wantMember bool) bool {
	list, ok := expected.([]interface{})
	if !ok {
		return false
	}
	found := false
	for _, item := range list {
		if equals(actual, item) {
			found = true
			break
		}
	}
	return found == wantMember
}

func contains(actual envelope.Value, expected interface{}, wantContains bool) bool {
	s, ok := expected.(string)
	if !ok {
		return false
	}
	found := actual.Kind() == envelope.KindString && strings.Contains(actual.String(), s)
	return found == wantContains
}
