// Package routing implements the routing engine (C5): given an envelope,
// determine which target system ids it should be forwarded to by
// evaluating the configured RoutingRules in priority order and unioning
// the targets of every rule that matches.
package routing

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

// Engine holds a copy-on-write snapshot of compiled rules; readers never
// take a lock to find matching rules because Update always swaps in a
// brand new slice pointer rather than mutating the live one in place.
// statsMu guards only the per-rule MatchCount/LastMatchAt bump on a
// match, a small critical section shared by concurrent Route calls
// against the same snapshot.
type Engine struct {
	rules   atomic.Pointer[[]dto.RoutingRule]
	statsMu sync.Mutex
}

func New(rules []dto.RoutingRule) *Engine {
	e := &Engine{}
	e.Update(rules)
	return e
}

// Update atomically replaces the compiled rule set. Rules are pre-sorted
// by descending priority; equal-priority rules keep their original
// (insertion) order via a stable sort.
func (e *Engine) Update(rules []dto.RoutingRule) {
	sorted := make([]dto.RoutingRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && r.IsPublished {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	e.rules.Store(&sorted)
}

func (e *Engine) rulesSnapshot() []dto.RoutingRule {
	p := e.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Rules returns a copy of the current rule snapshot, including each
// rule's MatchCount/LastMatchAt as last updated by Route.
func (e *Engine) Rules() []dto.RoutingRule {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	src := e.rulesSnapshot()
	out := make([]dto.RoutingRule, len(src))
	copy(out, src)
	return out
}

// Decision is the outcome of routing one envelope.
type Decision struct {
	MessageID      string
	MatchedRuleIDs []string
	TargetIDs      []string
}

// Route evaluates every active, published rule against env in priority
// order and returns the union of matched targets, first-seen order
// preserved.
func (e *Engine) Route(env *envelope.Envelope) Decision {
	rules := e.rulesSnapshot()
	now := time.Now()

	decision := Decision{MessageID: env.MessageID}
	seen := make(map[string]bool)

	for i := range rules {
		rule := rules[i]
		if !sourceMatches(rule.Source, env) {
			continue
		}
		if !conditionsMatch(rule, env) {
			continue
		}
		decision.MatchedRuleIDs = append(decision.MatchedRuleIDs, rule.ID)
		for _, t := range rule.Targets {
			if !seen[t] {
				seen[t] = true
				decision.TargetIDs = append(decision.TargetIDs, t)
			}
		}

		// Bump the matched rule's runtime stats in place on the shared
		// snapshot backing array, so every holder of this snapshot
		// pointer (until the next Update) observes the same counts.
		e.statsMu.Lock()
		rules[i].MatchCount++
		rules[i].LastMatchAt = now
		e.statsMu.Unlock()
	}
	return decision
}

func sourceMatches(src dto.SourceConfig, env *envelope.Envelope) bool {
	if len(src.Protocols) > 0 {
		ok := false
		for _, p := range src.Protocols {
			if p == string(env.SourceProtocol) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(src.DataSourceIDs) > 0 {
		ok := false
		for _, id := range src.DataSourceIDs {
			if id == env.DataSourceID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if src.SourcePattern != "" {
		matched, err := doublestar.Match(src.SourcePattern, env.DataSourceID)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

func conditionsMatch(rule dto.RoutingRule, env *envelope.Envelope) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	logical := rule.LogicalOperator
	if logical == "" {
		logical = dto.LogicalAND
	}

	if logical == dto.LogicalOR {
		for _, c := range rule.Conditions {
			if evaluateCondition(c, env) {
				return true
			}
		}
		return false
	}
	for _, c := range rule.Conditions {
		if !evaluateCondition(c, env) {
			return false
		}
	}
	return true
}

// evaluateCondition resolves a single condition's field path against the
// envelope and applies its operator. It is unexported; the package's own
// tests call it directly.
func evaluateCondition(c dto.RoutingCondition, env *envelope.Envelope) bool {
	actual, ok := env.Field(c.FieldPath)
	if !ok {
		return false
	}
	return Compare(actual, c.Operator, c.Value)
}
