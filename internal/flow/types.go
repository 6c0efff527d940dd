// Package flow interprets published conversation graphs. A flow is a
// directed graph of typed nodes; executing it against one inbound
// message yields an output text plus an updated execution context.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/repliahq/replia/internal/provider"
)

// NodeType determines a node's dispatch semantics.
type NodeType string

const (
	NodeInput       NodeType = "input"
	NodeLLM         NodeType = "llm"
	NodeRegexRouter NodeType = "regex_router"
	NodeMenuOptions NodeType = "menu_options"
	NodeHTTPRequest NodeType = "http_request"
	NodeDelay       NodeType = "delay"
	NodeEnd         NodeType = "end"
)

// Node is one step in a flow. Config is decoded into the variant
// matching Type at load time, so dispatch never touches raw maps.
type Node struct {
	ID   string
	Type NodeType
	Next string
	// MaxRevisits is the node's revisit budget: how many times the node
	// may be re-entered after its first visit within one execution.
	// Zero keeps the classic no-revisit safeguard.
	MaxRevisits int
	Config      NodeConfig
}

// NodeConfig is the tagged union of per-type configurations.
type NodeConfig interface {
	nodeConfig()
}

type InputConfig struct{}

type LLMConfig struct {
	Provider     string   `json:"provider"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
}

type RegexPattern struct {
	Regex      string `json:"regex"`
	Flags      string `json:"flags,omitempty"`
	NextNodeID string `json:"nextNodeId"`
}

// RegexRouterConfig holds an ordered pattern list; order is the
// tie-break, the first matching pattern wins.
type RegexRouterConfig struct {
	Patterns    []RegexPattern `json:"patterns"`
	DefaultNext string         `json:"defaultNext,omitempty"`
}

type MenuOption struct {
	Text       string `json:"text"`
	Value      string `json:"value"`
	NextNodeID string `json:"nextNodeId"`
}

// MenuOptionsConfig holds an ordered option list; the first option
// whose text the message contains (case-insensitive) or whose value it
// equals exactly wins.
type MenuOptionsConfig struct {
	Options     []MenuOption `json:"options"`
	DefaultNext string       `json:"defaultNext,omitempty"`
}

type HTTPRequestConfig struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

type DelayConfig struct {
	DelayMs int `json:"delayMs,omitempty"`
}

type EndConfig struct {
	FinalMessage string `json:"finalMessage,omitempty"`
}

func (InputConfig) nodeConfig()       {}
func (LLMConfig) nodeConfig()         {}
func (RegexRouterConfig) nodeConfig() {}
func (MenuOptionsConfig) nodeConfig() {}
func (HTTPRequestConfig) nodeConfig() {}
func (DelayConfig) nodeConfig()       {}
func (EndConfig) nodeConfig()         {}

// Definition is one published flow. Owned by configuration storage;
// the engine treats it as read-only.
type Definition struct {
	Nodes     map[string]Node
	Entry     string
	Variables map[string]any
}

// Context is the mutable state of one flow execution. Created fresh
// per inbound message and discarded afterwards, except the trailing
// message history which the caller persists into conversation memory.
type Context struct {
	Messages  []provider.Message
	Variables map[string]any
	// System is the caller-composed system prompt used by llm nodes
	// that declare none of their own.
	System  string
	Current string
	// Visited counts how many times each node has been entered.
	Visited map[string]int
}

// LastUserMessage returns the most recent user-role message content.
func (c *Context) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// --- JSON wire format ---

type nodeEnvelope struct {
	ID          string          `json:"id,omitempty"`
	Type        NodeType        `json:"type"`
	Next        string          `json:"next,omitempty"`
	MaxRevisits int             `json:"maxRevisits,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type definitionEnvelope struct {
	Nodes     map[string]nodeEnvelope `json:"nodes"`
	Entry     string                  `json:"entryNodeId"`
	Variables map[string]any          `json:"variables,omitempty"`
}

// UnmarshalJSON decodes the published JSON schema, resolving each
// node's config into its typed variant.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var env definitionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	d.Entry = env.Entry
	d.Variables = env.Variables
	d.Nodes = make(map[string]Node, len(env.Nodes))
	for id, raw := range env.Nodes {
		node, err := decodeNode(id, raw)
		if err != nil {
			return err
		}
		d.Nodes[id] = node
	}
	return nil
}

// MarshalJSON emits the same schema the store persists.
func (d Definition) MarshalJSON() ([]byte, error) {
	env := definitionEnvelope{
		Entry:     d.Entry,
		Variables: d.Variables,
		Nodes:     make(map[string]nodeEnvelope, len(d.Nodes)),
	}
	for id, node := range d.Nodes {
		raw, err := json.Marshal(node.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q: encode config: %w", id, err)
		}
		env.Nodes[id] = nodeEnvelope{
			Type:        node.Type,
			Next:        node.Next,
			MaxRevisits: node.MaxRevisits,
			Config:      raw,
		}
	}
	return json.Marshal(env)
}

func decodeNode(id string, env nodeEnvelope) (Node, error) {
	node := Node{
		ID:          id,
		Type:        env.Type,
		Next:        env.Next,
		MaxRevisits: env.MaxRevisits,
	}
	raw := env.Config
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var err error
	switch env.Type {
	case NodeInput:
		var cfg InputConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeLLM:
		var cfg LLMConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeRegexRouter:
		var cfg RegexRouterConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeMenuOptions:
		var cfg MenuOptionsConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeHTTPRequest:
		var cfg HTTPRequestConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeDelay:
		var cfg DelayConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case NodeEnd:
		var cfg EndConfig
		err = json.Unmarshal(raw, &cfg)
		node.Config = cfg
	case "":
		return node, fmt.Errorf("node %q: missing type", id)
	default:
		return node, fmt.Errorf("node %q: unknown type %q", id, env.Type)
	}
	if err != nil {
		return node, fmt.Errorf("node %q: decode %s config: %w", id, env.Type, err)
	}
	return node, nil
}
