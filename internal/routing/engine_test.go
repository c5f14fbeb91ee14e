package routing

import (
	"testing"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

func TestEvaluateCondition_SimpleEquality(t *testing.T) {
	c := dto.RoutingCondition{FieldPath: "source_protocol", Operator: dto.OpEQ, Value: "UDP"}
	env := &envelope.Envelope{SourceProtocol: envelope.ProtocolUDP}
	if !evaluateCondition(c, env) {
		t.Fatal("expected UDP == UDP to match")
	}
	env2 := &envelope.Envelope{SourceProtocol: envelope.ProtocolHTTP}
	if evaluateCondition(c, env2) {
		t.Fatal("expected HTTP != UDP")
	}
}

func TestEvaluateCondition_GreaterThan(t *testing.T) {
	c := dto.RoutingCondition{FieldPath: "parsed_data.temperature", Operator: dto.OpGT, Value: 30.0}
	v := envelope.Map(map[string]envelope.Value{"temperature": envelope.Float(35.0), "humidity": envelope.Float(60.0)})
	env := &envelope.Envelope{}
	*env = env.WithParsed(v)
	if !evaluateCondition(c, env) {
		t.Fatal("expected 35.0 > 30.0")
	}

	v2 := envelope.Map(map[string]envelope.Value{"temperature": envelope.Float(25.0)})
	env2 := &envelope.Envelope{}
	*env2 = env2.WithParsed(v2)
	if evaluateCondition(c, env2) {
		t.Fatal("expected 25.0 not > 30.0")
	}
}

func TestEvaluateCondition_In(t *testing.T) {
	c := dto.RoutingCondition{FieldPath: "parsed_data.status", Operator: dto.OpIn, Value: []interface{}{1.0, 2.0, 3.0}}
	v := envelope.Map(map[string]envelope.Value{"status": envelope.Int(2)})
	env := &envelope.Envelope{}
	*env = env.WithParsed(v)
	if !evaluateCondition(c, env) {
		t.Fatal("expected status 2 to be IN [1,2,3]")
	}

	v2 := envelope.Map(map[string]envelope.Value{"status": envelope.Int(5)})
	env2 := &envelope.Envelope{}
	*env2 = env2.WithParsed(v2)
	if evaluateCondition(c, env2) {
		t.Fatal("expected status 5 to not be IN [1,2,3]")
	}
}

func TestEvaluateCondition_NestedFieldPath(t *testing.T) {
	c := dto.RoutingCondition{FieldPath: "parsed_data.sensor.temperature", Operator: dto.OpGT, Value: 25.0}
	nested := envelope.Map(map[string]envelope.Value{"temperature": envelope.Float(30.0)})
	v := envelope.Map(map[string]envelope.Value{"sensor": nested})
	env := &envelope.Envelope{}
	*env = env.WithParsed(v)
	if !evaluateCondition(c, env) {
		t.Fatal("expected nested temperature 30.0 > 25.0")
	}
}

func TestRoute_PriorityOrderingAndUnion(t *testing.T) {
	rules := []dto.RoutingRule{
		{ID: "low", Priority: 1, IsActive: true, IsPublished: true, Targets: []string{"t1"}},
		{ID: "high", Priority: 10, IsActive: true, IsPublished: true, Targets: []string{"t2", "t1"}},
		{ID: "inactive", Priority: 100, IsActive: false, IsPublished: true, Targets: []string{"t3"}},
	}
	engine := New(rules)
	env := &envelope.Envelope{SourceProtocol: envelope.ProtocolHTTP}
	decision := engine.Route(env)

	if len(decision.MatchedRuleIDs) != 2 {
		t.Fatalf("MatchedRuleIDs = %v, want 2 matches", decision.MatchedRuleIDs)
	}
	if decision.MatchedRuleIDs[0] != "high" || decision.MatchedRuleIDs[1] != "low" {
		t.Fatalf("MatchedRuleIDs = %v, want [high, low]", decision.MatchedRuleIDs)
	}
	want := []string{"t2", "t1"}
	if len(decision.TargetIDs) != len(want) {
		t.Fatalf("TargetIDs = %v, want %v", decision.TargetIDs, want)
	}
	for i := range want {
		if decision.TargetIDs[i] != want[i] {
			t.Fatalf("TargetIDs = %v, want %v", decision.TargetIDs, want)
		}
	}
}

func TestRoute_UpdatesMatchCountAndLastMatchAt(t *testing.T) {
	rules := []dto.RoutingRule{
		{ID: "r1", Priority: 1, IsActive: true, IsPublished: true, Targets: []string{"t1"}},
		{ID: "r2", Priority: 1, IsActive: true, IsPublished: true, Source: dto.SourceConfig{Protocols: []string{"MQTT"}}, Targets: []string{"t2"}},
	}
	engine := New(rules)
	env := &envelope.Envelope{SourceProtocol: envelope.ProtocolHTTP}

	engine.Route(env)
	engine.Route(env)

	snapshot := engine.Rules()
	var r1, r2 dto.RoutingRule
	for _, r := range snapshot {
		switch r.ID {
		case "r1":
			r1 = r
		case "r2":
			r2 = r
		}
	}
	if r1.MatchCount != 2 {
		t.Fatalf("r1.MatchCount = %d, want 2 after two matching routes", r1.MatchCount)
	}
	if r1.LastMatchAt.IsZero() {
		t.Fatal("r1.LastMatchAt should be set after a match")
	}
	if r2.MatchCount != 0 {
		t.Fatalf("r2.MatchCount = %d, want 0 (protocol never matched HTTP envelope)", r2.MatchCount)
	}
	if !r2.LastMatchAt.IsZero() {
		t.Fatal("r2.LastMatchAt should remain zero; its rule never matched")
	}
}

func TestSourceMatches_ProtocolFilter(t *testing.T) {
	rule := dto.RoutingRule{
		ID: "r1", Priority: 1, IsActive: true, IsPublished: true,
		Source:  dto.SourceConfig{Protocols: []string{"MQTT"}},
		Targets: []string{"t1"},
	}
	engine := New([]dto.RoutingRule{rule})

	udpEnv := &envelope.Envelope{SourceProtocol: envelope.ProtocolUDP}
	if d := engine.Route(udpEnv); len(d.TargetIDs) != 0 {
		t.Fatalf("expected UDP envelope to not match MQTT-only rule, got %v", d.TargetIDs)
	}

	mqttEnv := &envelope.Envelope{SourceProtocol: envelope.ProtocolMQTT}
	if d := engine.Route(mqttEnv); len(d.TargetIDs) != 1 {
		t.Fatalf("expected MQTT envelope to match, got %v", d.TargetIDs)
	}
}

func TestConditionsMatch_LogicalOr(t *testing.T) {
	rule := dto.RoutingRule{
		ID: "r1", Priority: 1, IsActive: true, IsPublished: true,
		LogicalOperator: dto.LogicalOR,
		Conditions: []dto.RoutingCondition{
			{FieldPath: "parsed_data.status", Operator: dto.OpEQ, Value: "critical"},
			{FieldPath: "parsed_data.level", Operator: dto.OpGT, Value: 90.0},
		},
		Targets: []string{"alert-target"},
	}
	engine := New([]dto.RoutingRule{rule})

	v := envelope.Map(map[string]envelope.Value{"status": envelope.String("ok"), "level": envelope.Float(95.0)})
	env := &envelope.Envelope{}
	*env = env.WithParsed(v)

	d := engine.Route(env)
	if len(d.TargetIDs) != 1 {
		t.Fatalf("expected OR condition to match via level, got %v", d.TargetIDs)
	}
}
