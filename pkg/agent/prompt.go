package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultSystemPromptTemplate = `Respond ONLY in English. Never use any other language.
You are EVTXorcist's Splunk analyst. You MUST search the data using tools before answering. NEVER guess or hallucinate answers based on CTF knowledge.
CRITICAL INSTRUCTION: You DO NOT know the answer to the user's question until you run a search. ALWAYS start your response with a tool call.
TO SEARCH, YOU MUST OUTPUT EXACTLY THIS SYNTAX AND NOTHING ELSE BEFORE IT:
{{tool}}({{arg}}="your splunk query here")
Do not describe the query, just output the tool call.

PERSISTENCE: If a search returns no results, DO NOT give up. Try at least 3 different approaches:
  1. Broaden filters (remove sourcetype/source constraints, use wildcards)
  2. Try different EventIDs or fields (e.g. 4688 for processes, 4624 for logons, 11 for file creation)
  3. Search with wildcards: *keyword* in any field
  4. Check what data exists: | stats count by sourcetype, | stats count by Event.System.Channel
Only conclude 'not found' after exhausting multiple search strategies.

CASES: Each uploaded EVTX file set is a 'case' stored in the 'source' field. To list cases use {{tool}} with {{arg}}='index=main | stats count by source'. To query a case: {{arg}}='index=main source="CaseName" ...'
IMPORTANT: The 'source' field is ONLY for the CaseName/upload. Do NOT use it for endpoint hostnames. For endpoint hostnames (like 'Client02'), use the 'Computer' or 'Event.System.Computer' field AND ALWAYS wrap the hostname in wildcards (e.g., Computer="*Client02*") to catch full domains like Client02.Main.local.

SEARCH PRIORITY: Always query chainsaw (sourcetype=chainsaw) FIRST. It contains pre-processed Sigma detections with rule names, severity, and enriched fields. Only search raw EVTX (sourcetype=_json) if chainsaw doesn't have what you need.

DATA FORMAT & FIELDS:
- sourcetype=chainsaw (Sigma alerts): contains fields like name, level, tags, document.data.Event.*
- sourcetype=_json (raw EVTX): contains Windows event data. Example fields: 'Event.System.EventID', 'Event.System.Computer' (use this for hostnames, e.g., DC01.Main.local), 'Event.System.Channel', 'Event.EventData.Payload', 'Event.EventData.CommandLine' etc.
Example raw EVTX search: {{arg}}='index=main sourcetype=_json Event.System.Computer="Client02" Event.System.EventID=4103 Event.EventData.Payload="*Invoke-Expression*"'

SPL: index=main sourcetype=chainsaw | index=main sourcetype=chainsaw level=critical | stats count by name

Rules: English only. Present results as tables/bullets. Never fabricate data.`

const defaultDirectiveTemplate = "\n\n[SYSTEM DIRECTIVE: You do not know the answer. You MUST begin your response by outputting `{{tool}}({{arg}}=\"...\")` to query the Splunk database.]"

func render(template, tool, arg string) string {
	return strings.NewReplacer("{{tool}}", tool, "{{arg}}", arg).Replace(template)
}

// DefaultSystemPrompt renders the built-in analyst prompt for the given
// query tool and argument name.
func DefaultSystemPrompt(tool, arg string) string {
	return render(defaultSystemPromptTemplate, tool, arg)
}

// DefaultDirective renders the reminder appended to the first round.
func DefaultDirective(tool, arg string) string {
	return render(defaultDirectiveTemplate, tool, arg)
}

// PromptStore serves the system prompt, optionally from a file that is
// reloaded whenever it changes on disk.
type PromptStore struct {
	path     string
	fallback string
	current  atomic.Pointer[string]
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewPromptStore creates a store. With an empty path the fallback is served
// forever; otherwise the file's content wins once it is readable and non-empty.
func NewPromptStore(path, fallback string, logger zerolog.Logger) *PromptStore {
	s := &PromptStore{
		path:     path,
		fallback: fallback,
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "prompt_store").Logger(),
	}
	s.current.Store(&fallback)
	if path != "" {
		s.reload()
	}
	return s
}

// Current returns the prompt in effect.
func (s *PromptStore) Current() string {
	return *s.current.Load()
}

// Start watches the prompt file's directory for changes.
func (s *PromptStore) Start() error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt file: %w", err)
	}
	s.watcher = watcher

	go s.eventLoop()

	s.logger.Info().Str("path", s.path).Msg("Prompt watcher started")
	return nil
}

// Stop stops the watcher
func (s *PromptStore) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	if s.watcher == nil {
		return nil
	}
	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (s *PromptStore) eventLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.reload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")

		case <-s.done:
			return
		}
	}
}

// reload keeps the previous prompt when the file is missing or empty, which
// also covers editors that truncate before writing.
func (s *PromptStore) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Prompt file unreadable, keeping current prompt")
		return
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return
	}
	s.current.Store(&prompt)
	s.logger.Info().Str("path", s.path).Int("chars", len(prompt)).Msg("System prompt loaded")
}
