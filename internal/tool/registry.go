package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolgate/toolgate/internal/event"
	"github.com/toolgate/toolgate/internal/invariant"
	"github.com/toolgate/toolgate/internal/logging"
	"github.com/toolgate/toolgate/internal/schema"
)

// ErrAlreadyRegistered is returned when a name collides and overwrite was
// not requested.
var ErrAlreadyRegistered = errors.New("tool already registered")

// registered is the stored record for one tool. The definition inside is
// the registry's private copy; it never aliases caller memory.
type registered struct {
	def          Definition
	executor     Executor
	source       Source
	tags         map[string]struct{}
	registeredAt time.Time
}

// Registry manages tool registration, lookup and execution. All stored and
// returned definitions are independent copies: mutating an input after
// Register, or an output of any getter, never alters registry state.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*registered
	bySource map[Source]map[string]struct{}
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*registered),
		bySource: make(map[Source]map[string]struct{}),
		log:      logging.Component("registry"),
	}
}

// Register adds a tool under def.Name. A duplicate name fails with
// ErrAlreadyRegistered unless opts.AllowOverwrite is set; on overwrite the
// definition, executor and source index all move together.
func (r *Registry) Register(source Source, def Definition, executor Executor, opts RegisterOptions) error {
	if err := invariant.NonEmptyString(def.Name, "tool name"); err != nil {
		return err
	}
	if err := invariant.Check(executor != nil, "tool executor must be defined",
		map[string]any{"tool": def.Name}); err != nil {
		return err
	}
	if err := invariant.NonEmptyString(string(source), "tool source"); err != nil {
		return err
	}

	r.mu.Lock()
	prev, exists := r.tools[def.Name]
	if exists && !opts.AllowOverwrite {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name)
	}

	tags := make(map[string]struct{}, len(opts.Tags))
	for _, tag := range opts.Tags {
		tags[tag] = struct{}{}
	}

	r.tools[def.Name] = &registered{
		def:          cloneDefinition(def),
		executor:     executor,
		source:       source,
		tags:         tags,
		registeredAt: time.Now(),
	}

	// Keep the source index in step with the primary map so a tool can
	// move between sources on overwrite.
	if exists {
		delete(r.bySource[prev.source], def.Name)
	}
	if r.bySource[source] == nil {
		r.bySource[source] = make(map[string]struct{})
	}
	r.bySource[source][def.Name] = struct{}{}
	r.mu.Unlock()

	r.log.Debug().Str("tool", def.Name).Str("source", string(source)).Bool("overwrite", exists).Msg("tool registered")
	event.Publish(event.Event{
		Type: event.ToolRegistered,
		Data: event.ToolRegisteredData{Name: def.Name, Source: string(source)},
	})
	return nil
}

// RegisterBatch registers many tools, collecting per-item errors without
// aborting the rest. It returns the names registered and the error for
// each item that failed, keyed by tool name (or a positional key when the
// name itself is missing).
func (r *Registry) RegisterBatch(source Source, items []BatchItem) ([]string, map[string]error) {
	var ok []string
	failed := make(map[string]error)
	for i, item := range items {
		key := item.Definition.Name
		if key == "" {
			key = fmt.Sprintf("item[%d]", i)
		}
		if err := r.Register(source, item.Definition, item.Executor, RegisterOptions{Tags: item.Tags}); err != nil {
			failed[key] = err
			continue
		}
		ok = append(ok, item.Definition.Name)
	}
	return ok, failed
}

// Execute runs the named tool. An unknown name yields a failure result,
// never an error or panic; an executor panic is normalized into the uniform
// failure shape the same way.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, execCtx *ExecutionContext) (res Result) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			if err, isErr := rec.(error); isErr {
				res = Result{
					Success: false,
					Error:   err.Error(),
					Data: map[string]any{
						"errorName":    fmt.Sprintf("%T", err),
						"errorMessage": err.Error(),
					},
				}
			} else {
				res = Result{Success: false, Error: "Unknown execution error"}
			}
			r.log.Error().Str("tool", name).Any("panic", rec).Msg("executor panicked")
		}
	}()

	res = reg.executor(ctx, cloneMap(args), cloneContext(execCtx))

	if res.Success && len(reg.def.OutputSchema) > 0 {
		check := schema.ValidateContent(reg.def.OutputSchema, []schema.ContentItem{{Type: "text", Text: res.Output}})
		if check.Status == schema.StatusInvalid {
			if res.Data == nil {
				res.Data = make(map[string]any)
			}
			res.Data["schemaValidation"] = map[string]any{
				"status": string(check.Status),
				"errors": check.Errors,
			}
			r.log.Warn().Str("tool", name).Strs("errors", check.Errors).Msg("output failed schema validation")
		}
	}
	return res
}

// Get returns a copy of the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return cloneDefinition(reg.def), true
}

// GetInfo returns the full registration record for name.
func (r *Registry) GetInfo(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Info{}, false
	}
	return Info{
		Definition:   cloneDefinition(reg.def),
		Source:       reg.source,
		Tags:         sortedTags(reg.tags),
		RegisteredAt: reg.registeredAt,
	}, true
}

// Definitions returns copies of every definition, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, cloneDefinition(reg.def))
	}
	sortDefinitions(out)
	return out
}

// DefinitionsBySource returns copies of the definitions registered under
// source, sorted by name.
func (r *Registry) DefinitionsBySource(source Source) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for name := range r.bySource[source] {
		out = append(out, cloneDefinition(r.tools[name].def))
	}
	sortDefinitions(out)
	return out
}

// DefinitionsByTag returns copies of the definitions carrying tag, sorted
// by name.
func (r *Registry) DefinitionsByTag(tag string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Definition
	for _, reg := range r.tools {
		if _, ok := reg.tags[tag]; ok {
			out = append(out, cloneDefinition(reg.def))
		}
	}
	sortDefinitions(out)
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NamesBySource returns the tool names registered under source, sorted.
func (r *Registry) NamesBySource(source Source) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySource[source]))
	for name := range r.bySource[source] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Unregister removes a tool and its source-index membership; it reports
// whether anything was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	reg, ok := r.tools[name]
	if ok {
		delete(r.tools, name)
		delete(r.bySource[reg.source], name)
	}
	r.mu.Unlock()

	if ok {
		event.Publish(event.Event{
			Type: event.ToolUnregistered,
			Data: event.ToolUnregisteredData{Name: name},
		})
	}
	return ok
}

// Clear removes every tool, or only those from the given sources, and
// returns how many were removed.
func (r *Registry) Clear(sources ...Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(sources) == 0 {
		n := len(r.tools)
		r.tools = make(map[string]*registered)
		r.bySource = make(map[Source]map[string]struct{})
		return n
	}

	n := 0
	for _, source := range sources {
		for name := range r.bySource[source] {
			delete(r.tools, name)
			n++
		}
		delete(r.bySource, source)
	}
	return n
}

// Stats aggregates registration counts by source and tag.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		Total:    len(r.tools),
		BySource: make(map[Source]int),
		ByTag:    make(map[string]int),
	}
	for _, reg := range r.tools {
		s.BySource[reg.source]++
		for tag := range reg.tags {
			s.ByTag[tag]++
		}
	}
	return s
}

// Export returns all definitions grouped by source, as independent copies.
func (r *Registry) Export() map[Source][]Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Source][]Definition)
	for _, reg := range r.tools {
		out[reg.source] = append(out[reg.source], cloneDefinition(reg.def))
	}
	for _, defs := range out {
		sortDefinitions(defs)
	}
	return out
}

func sortDefinitions(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}

func sortedTags(tags map[string]struct{}) []string {
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// cloneDefinition makes a structural copy so registry state never aliases
// caller memory in either direction.
func cloneDefinition(def Definition) Definition {
	out := def
	out.InputSchema = cloneRaw(def.InputSchema)
	out.OutputSchema = cloneRaw(def.OutputSchema)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// cloneMap deep-copies a JSON-shaped map via a marshal round-trip.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	logger := logging.Component("registry")
	raw, err := json.Marshal(m)
	if err != nil {
		// Non-serializable arguments cannot cross the isolation boundary;
		// hand the executor an empty map rather than shared memory.
		logger.Warn().Err(err).Msg("dropping non-serializable map at isolation boundary")
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn().Err(err).Msg("dropping non-serializable map at isolation boundary")
		return map[string]any{}
	}
	return out
}

func cloneContext(c *ExecutionContext) *ExecutionContext {
	if c == nil {
		return nil
	}
	return &ExecutionContext{
		Source:    c.Source,
		SessionID: c.SessionID,
		Metadata:  cloneMap(c.Metadata),
	}
}
