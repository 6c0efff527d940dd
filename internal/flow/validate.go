package flow

import (
	"fmt"
	"regexp"
	"sort"
)

// Validate checks a definition before publishing. It returns
// human-readable problem descriptions; an empty slice means the flow
// may be published. Validation runs once per publish, never per
// message.
func Validate(def *Definition) []string {
	var problems []string
	if def == nil {
		return []string{"flow definition is empty"}
	}
	if def.Entry == "" {
		problems = append(problems, "entry node id is required")
	} else if _, ok := def.Nodes[def.Entry]; !ok {
		problems = append(problems, fmt.Sprintf("entry node %q does not exist", def.Entry))
	}
	if len(def.Nodes) == 0 {
		problems = append(problems, "flow has no nodes")
	}

	// Deterministic report order.
	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := def.Nodes[id]
		if node.Type == "" {
			problems = append(problems, fmt.Sprintf("node %q: type is required", id))
			continue
		}
		if node.MaxRevisits < 0 {
			problems = append(problems, fmt.Sprintf("node %q: maxRevisits must not be negative", id))
		}
		problems = append(problems, validateEdges(def, id, node)...)

		switch cfg := node.Config.(type) {
		case LLMConfig:
			if cfg.Provider == "" {
				problems = append(problems, fmt.Sprintf("node %q: llm nodes must declare a provider", id))
			}
		case RegexRouterConfig:
			if len(cfg.Patterns) == 0 {
				problems = append(problems, fmt.Sprintf("node %q: regex_router nodes need at least one pattern", id))
			}
			for i, pattern := range cfg.Patterns {
				if _, err := compilePattern(pattern); err != nil {
					problems = append(problems, fmt.Sprintf("node %q: pattern %d does not compile: %v", id, i, err))
				}
			}
		case MenuOptionsConfig:
			if len(cfg.Options) == 0 {
				problems = append(problems, fmt.Sprintf("node %q: menu_options nodes need at least one option", id))
			}
		case HTTPRequestConfig:
			if cfg.URL == "" {
				problems = append(problems, fmt.Sprintf("node %q: http_request nodes must declare a url", id))
			}
		}
	}
	return problems
}

// validateEdges reports node references that do not resolve.
func validateEdges(def *Definition, id string, node Node) []string {
	var problems []string
	check := func(target, label string) {
		if target == "" {
			return
		}
		if _, ok := def.Nodes[target]; !ok {
			problems = append(problems, fmt.Sprintf("node %q: %s points to unknown node %q", id, label, target))
		}
	}
	check(node.Next, "next")
	switch cfg := node.Config.(type) {
	case RegexRouterConfig:
		check(cfg.DefaultNext, "defaultNext")
		for i, pattern := range cfg.Patterns {
			check(pattern.NextNodeID, fmt.Sprintf("pattern %d", i))
		}
	case MenuOptionsConfig:
		check(cfg.DefaultNext, "defaultNext")
		for i, option := range cfg.Options {
			check(option.NextNodeID, fmt.Sprintf("option %d", i))
		}
	}
	return problems
}

// compilePattern translates the flow schema's flag letters into Go
// inline flags and compiles the result.
func compilePattern(pattern RegexPattern) (*regexp.Regexp, error) {
	expr := pattern.Regex
	if pattern.Flags != "" {
		var inline []rune
		for _, flag := range pattern.Flags {
			switch flag {
			case 'i', 'm', 's':
				inline = append(inline, flag)
			}
		}
		if len(inline) > 0 {
			expr = "(?" + string(inline) + ")" + expr
		}
	}
	return regexp.Compile(expr)
}
