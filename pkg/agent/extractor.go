package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Extraction strategy names, in priority order.
const (
	StrategyNative       = "native"
	StrategyJSONBlock    = "json-block"
	StrategyFunctionCall = "function-call"
	StrategyQueryLine    = "query-line"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\n(.*?)\\n```")
	funcCallPattern    = regexp.MustCompile(`(\w+)\(\s*((?:\w+\s*=\s*(?:"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*')(?:\s*,\s*)?)+)\s*\)`)
	keyValuePattern    = regexp.MustCompile(`(\w+)\s*=\s*(?:"((?:\\.|[^"\\])*)"|'((?:\\.|[^'\\])*)')`)
	fenceMarkerPattern = regexp.MustCompile("```\\w*\\n?")
	queryLinePattern   = regexp.MustCompile(`(?:^|\n)\s*((?:search\s+)?index=\S+[^\n]*)`)
	quoteUnescaper     = strings.NewReplacer(`\"`, `"`, `\'`, `'`)
)

// Strategy recovers tool calls from free text. It must be pure.
type Strategy struct {
	Name    string
	Extract func(text string) []ToolCall
}

// Extractor applies strategies in order; the first non-empty result wins.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor builds the default chain. queryTool and queryArg name the
// tool and argument bare query lines are routed to.
func NewExtractor(queryTool, queryArg string) *Extractor {
	return &Extractor{
		strategies: []Strategy{
			{Name: StrategyJSONBlock, Extract: jsonBlockStrategy(queryArg)},
			{Name: StrategyFunctionCall, Extract: functionCallStrategy(queryArg)},
			{Name: StrategyQueryLine, Extract: queryLineStrategy(queryTool, queryArg)},
		},
	}
}

// NewExtractorWithStrategies builds a custom chain.
func NewExtractorWithStrategies(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Strategies returns the chain in priority order.
func (e *Extractor) Strategies() []Strategy {
	return e.strategies
}

// Extract returns the calls found by the first strategy that finds any, and
// that strategy's name. Empty text or no match yields nil and "".
func (e *Extractor) Extract(text string) ([]ToolCall, string) {
	if text == "" {
		return nil, ""
	}
	for _, s := range e.strategies {
		if calls := s.Extract(text); len(calls) > 0 {
			return calls, s.Name
		}
	}
	return nil, ""
}

// renameQuery moves a "query" argument to queryArg when queryArg is absent.
func renameQuery(args map[string]any, queryArg string) {
	if v, ok := args["query"]; ok && queryArg != "query" {
		if _, exists := args[queryArg]; !exists {
			args[queryArg] = v
			delete(args, "query")
		}
	}
}

func jsonBlockStrategy(queryArg string) func(string) []ToolCall {
	assignPattern := regexp.MustCompile(regexp.QuoteMeta(queryArg) + `\s*=\s*(?:"((?:\\.|[^"\\])*)"|'((?:\\.|[^'\\])*)')`)
	assignPrefix := queryArg + "="

	return func(text string) []ToolCall {
		var blocks []string
		for _, m := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
			blocks = append(blocks, m[1])
		}
		if len(blocks) == 0 {
			start := strings.Index(text, "{")
			end := strings.LastIndex(text, "}")
			if start != -1 && end > start {
				blocks = []string{text[start : end+1]}
			}
		}

		var calls []ToolCall
		for _, block := range blocks {
			var obj map[string]any
			if err := json.Unmarshal([]byte(block), &obj); err != nil {
				continue
			}

			name := firstString(obj, "name", "tool")
			if name == "" {
				continue
			}
			raw := obj["arguments"]
			if isEmptyValue(raw) {
				raw = obj["command"]
			}

			var args map[string]any
			switch v := raw.(type) {
			case map[string]any:
				if len(v) == 0 {
					continue
				}
				args = v
			case string:
				if v == "" {
					continue
				}
				args = map[string]any{queryArg: parseQueryString(v, assignPattern, assignPrefix)}
			default:
				continue
			}

			renameQuery(args, queryArg)
			calls = append(calls, ToolCall{Name: name, Arguments: args})
		}
		return calls
	}
}

// parseQueryString pulls the quoted value out of `arg="..."`; failing that
// it strips the assignment and surrounding quotes; a string without the
// assignment is taken whole.
func parseQueryString(s string, assign *regexp.Regexp, prefix string) string {
	if !strings.Contains(s, prefix) {
		return s
	}
	if m := assign.FindStringSubmatch(s); m != nil {
		val := m[1]
		if val == "" {
			val = m[2]
		}
		return quoteUnescaper.Replace(val)
	}
	return strings.Trim(strings.ReplaceAll(s, prefix, ""), `"' `)
}

func functionCallStrategy(queryArg string) func(string) []ToolCall {
	return func(text string) []ToolCall {
		var calls []ToolCall
		for _, m := range funcCallPattern.FindAllStringSubmatch(text, -1) {
			name, argsStr := m[1], m[2]
			pairs := keyValuePattern.FindAllStringSubmatch(argsStr, -1)
			if len(pairs) == 0 {
				continue
			}

			args := make(map[string]any, len(pairs))
			for _, kv := range pairs {
				val := kv[2]
				if val == "" {
					val = kv[3]
				}
				args[kv[1]] = quoteUnescaper.Replace(val)
			}
			renameQuery(args, queryArg)
			calls = append(calls, ToolCall{Name: name, Arguments: args})
		}
		return calls
	}
}

func queryLineStrategy(queryTool, queryArg string) func(string) []ToolCall {
	return func(text string) []ToolCall {
		clean := fenceMarkerPattern.ReplaceAllString(text, "")

		var calls []ToolCall
		for _, m := range queryLinePattern.FindAllStringSubmatch(clean, -1) {
			query := strings.TrimSpace(m[1])
			if !strings.HasPrefix(query, "search ") {
				query = "search " + query
			}
			calls = append(calls, ToolCall{
				Name:      queryTool,
				Arguments: map[string]any{queryArg: query},
			})
		}
		return calls
	}
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}
