package flow

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleFlowJSON = `{
	"entryNodeId": "in",
	"variables": {"saludo": "hola"},
	"nodes": {
		"in": {"type": "input", "next": "router"},
		"router": {
			"type": "regex_router",
			"config": {
				"patterns": [{"regex": "precio", "flags": "i", "nextNodeId": "ai"}],
				"defaultNext": "fin"
			}
		},
		"ai": {
			"type": "llm",
			"next": "fin",
			"maxRevisits": 2,
			"config": {"provider": "openai", "systemPrompt": "Sos un vendedor.", "temperature": 0.3}
		},
		"fin": {"type": "end", "config": {"finalMessage": "¡Gracias!"}}
	}
}`

func TestDefinitionUnmarshalResolvesTypedConfigs(t *testing.T) {
	t.Parallel()

	var def Definition
	if err := json.Unmarshal([]byte(sampleFlowJSON), &def); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if def.Entry != "in" {
		t.Fatalf("expected entry in, got %q", def.Entry)
	}
	if def.Variables["saludo"] != "hola" {
		t.Fatalf("expected flow variables, got %v", def.Variables)
	}

	router, ok := def.Nodes["router"].Config.(RegexRouterConfig)
	if !ok {
		t.Fatalf("expected RegexRouterConfig, got %T", def.Nodes["router"].Config)
	}
	if len(router.Patterns) != 1 || router.Patterns[0].NextNodeID != "ai" {
		t.Fatalf("unexpected router config: %+v", router)
	}

	ai := def.Nodes["ai"]
	if ai.MaxRevisits != 2 {
		t.Fatalf("expected revisit budget 2, got %d", ai.MaxRevisits)
	}
	llm, ok := ai.Config.(LLMConfig)
	if !ok {
		t.Fatalf("expected LLMConfig, got %T", ai.Config)
	}
	if llm.Provider != "openai" || llm.Temperature == nil || *llm.Temperature != 0.3 {
		t.Fatalf("unexpected llm config: %+v", llm)
	}

	end, ok := def.Nodes["fin"].Config.(EndConfig)
	if !ok || end.FinalMessage != "¡Gracias!" {
		t.Fatalf("unexpected end config: %+v", def.Nodes["fin"].Config)
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	t.Parallel()

	var def Definition
	if err := json.Unmarshal([]byte(sampleFlowJSON), &def); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again Definition
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if again.Entry != def.Entry || len(again.Nodes) != len(def.Nodes) {
		t.Fatalf("round trip lost structure: %+v", again)
	}
	if again.Nodes["ai"].MaxRevisits != 2 {
		t.Fatalf("round trip lost revisit budget")
	}
}

func TestDefinitionUnmarshalRejectsUnknownNodeType(t *testing.T) {
	t.Parallel()

	raw := `{"entryNodeId": "x", "nodes": {"x": {"type": "teleport"}}}`
	var def Definition
	err := json.Unmarshal([]byte(raw), &def)
	if err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestDefinitionUnmarshalRejectsMissingType(t *testing.T) {
	t.Parallel()

	raw := `{"entryNodeId": "x", "nodes": {"x": {"next": "y"}}}`
	var def Definition
	err := json.Unmarshal([]byte(raw), &def)
	if err == nil || !strings.Contains(err.Error(), "missing type") {
		t.Fatalf("expected missing type error, got %v", err)
	}
}

func TestLastUserMessage(t *testing.T) {
	t.Parallel()

	fc := &Context{}
	if fc.LastUserMessage() != "" {
		t.Fatal("expected empty string for empty context")
	}
}
