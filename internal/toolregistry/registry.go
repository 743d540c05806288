package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/engineerr"
	"github.com/obra/lace-sub007/internal/models"
	"github.com/obra/lace-sub007/internal/snapshot"
)

// EventSink is the narrow slice of ActivityLog the registry needs, so
// this package never imports internal/activitylog directly; the
// registry is shared with, not owning, the log. It never returns an
// error: logEvent failures are swallowed and reported to DebugLog by
// the Log implementation itself.
type EventSink interface {
	LogEvent(ctx context.Context, eventType models.EventType, sessionID, modelSessionID string, data map[string]any)
}

// SnapshotHook is an alias for snapshot.Hook, kept so existing callers
// in this package read naturally; the seam itself lives in
// internal/snapshot so other packages (e.g. internal/agent) can depend
// on it without importing the whole tool registry.
type SnapshotHook = snapshot.Hook

// NopSnapshotHook is an alias for snapshot.Nop.
type NopSnapshotHook = snapshot.Nop

// Registry holds named tools and dispatches validated calls to them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	log    debuglog.Logger
	events EventSink

	schemaCache sync.Map // method-qualified key -> *jsonschema.Schema
}

// New creates an empty Registry. log and events may be nil; nil log
// becomes debuglog.NopLogger{} and nil events disables event emission
// (useful for tests that don't care about the activity log).
func New(log debuglog.Logger, events EventSink) *Registry {
	if log == nil {
		log = debuglog.NopLogger{}
	}
	return &Registry{tools: make(map[string]Tool), log: log, events: events}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// ListTools returns every registered tool's name.
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// GetToolSchema returns the named tool's schema, or nil if unknown.
func (r *Registry) GetToolSchema(name string) *Schema {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	s := tool.Schema()
	return &s
}

// resolve splits a canonical "<toolName>_<methodName>" invocation name,
// trying each underscore as the split point; a split pair has to be
// joined with CanonicalName first.
func (r *Registry) resolve(name string) (toolName, methodName string, tool Tool, method MethodSpec, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < len(name); i++ {
		if name[i] != '_' {
			continue
		}
		candidateTool := name[:i]
		candidateMethod := name[i+1:]
		if t, exists := r.tools[candidateTool]; exists {
			schema := t.Schema()
			if m, exists := schema.Methods[candidateMethod]; exists {
				return candidateTool, candidateMethod, t, m, true
			}
		}
	}
	return "", "", nil, MethodSpec{}, false
}

// CanonicalName joins a split (toolName, methodName) pair into the
// combined invocation form CallTool/CallToolWithSnapshots accept.
func CanonicalName(toolName, methodName string) string {
	return toolName + "_" + methodName
}

// CallTool validates params and invokes the resolved tool method. When
// sessionID is non-empty, tool_execution_start and
// tool_execution_complete events bracket the call unconditionally.
// name may be the combined "<toolName>_<methodName>" form or a split
// pair joined via CanonicalName.
func (r *Registry) CallTool(ctx context.Context, name string, params map[string]any, sessionID string) (any, error) {
	return r.callTool(ctx, name, params, sessionID, NopSnapshotHook{}, "")
}

// CallToolWithSnapshots is CallTool bracketed by optional pre/post
// snapshot hooks. Snapshot failures never fail the call; they are
// logged and reported as a snapshot_error activity event.
func (r *Registry) CallToolWithSnapshots(ctx context.Context, name string, params map[string]any, sessionID, generation string, hook SnapshotHook) (any, error) {
	if hook == nil {
		hook = NopSnapshotHook{}
	}
	return r.callTool(ctx, name, params, sessionID, hook, generation)
}

func (r *Registry) callTool(ctx context.Context, name string, params map[string]any, sessionID string, hook SnapshotHook, generation string) (any, error) {
	toolName, methodName, tool, method, ok := r.resolve(name)
	if !ok {
		return nil, engineerr.ValidationError("unknown tool: " + name)
	}

	if err := r.validateParams(method, params); err != nil {
		return nil, err
	}

	if err := hook.PreSnapshot(ctx, sessionID, generation, toolName); err != nil {
		r.log.Warn(ctx, "pre-tool snapshot failed", "tool", toolName, "error", err)
		r.emitSnapshotError(ctx, sessionID, models.SnapshotErrorPre, err)
	}

	if sessionID != "" {
		r.emit(ctx, sessionID, models.NewActivityEvent(models.EventToolExecutionStart, sessionID, "",
			models.ToolExecutionStartPayload{Tool: toolName, Method: methodName, Params: params}))
	}

	start := time.Now()
	result, callErr := tool.Call(ctx, methodName, params)
	duration := time.Since(start)

	if sessionID != "" {
		payload := models.ToolExecutionCompletePayload{
			Success:    callErr == nil,
			DurationMs: duration.Milliseconds(),
		}
		if callErr != nil {
			payload.Error = callErr.Error()
		} else {
			payload.Result = result
		}
		r.emit(ctx, sessionID, models.NewActivityEvent(models.EventToolExecutionComplete, sessionID, "", payload))
	}

	if callErr != nil {
		r.log.Error(ctx, "tool call failed", "tool", toolName, "method", methodName, "error", callErr)
	}

	if err := hook.PostSnapshot(ctx, sessionID, generation, toolName, result, callErr); err != nil {
		r.log.Warn(ctx, "post-tool snapshot failed", "tool", toolName, "error", err)
		r.emitSnapshotError(ctx, sessionID, models.SnapshotErrorPost, err)
	}

	if callErr != nil {
		return nil, engineerr.ToolExecutionError(toolName, callErr)
	}
	return result, nil
}

func (r *Registry) emitSnapshotError(ctx context.Context, sessionID string, kind models.SnapshotErrorKind, err error) {
	if sessionID == "" {
		return
	}
	r.emit(ctx, sessionID, models.NewActivityEvent(models.EventSnapshotError, sessionID, "",
		models.SnapshotErrorPayload{Error: err.Error(), Type: kind}))
}

func (r *Registry) emit(ctx context.Context, sessionID string, event *models.ActivityEvent) {
	if r.events == nil {
		return
	}
	r.events.LogEvent(ctx, event.EventType, event.SessionID, event.ModelSessionID, event.Data)
}

// validateParams enforces three rules: missing required parameter,
// unknown parameter, and type mismatch are all ValidationError.
// Compiled once per method via the registry's schema cache.
func (r *Registry) validateParams(method MethodSpec, params map[string]any) error {
	schema, err := r.compileMethodSchema(method)
	if err != nil {
		return engineerr.ValidationError("invalid schema: " + err.Error())
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return engineerr.ValidationError("unencodable params: " + err.Error())
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return engineerr.ValidationError("undecodable params: " + err.Error())
	}

	if err := schema.Validate(decoded); err != nil {
		return engineerr.ValidationError(err.Error())
	}
	return nil
}

// compileMethodSchema builds a JSON Schema document from a MethodSpec's
// declared parameters (required list, additionalProperties:false,
// per-param type) and caches the compiled result in this registry's
// schemaCache.
func (r *Registry) compileMethodSchema(method MethodSpec) (*jsonschema.Schema, error) {
	doc := toSchemaDoc(method)
	key := doc
	if cached, ok := r.schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(fmt.Sprintf("method-%p.schema.json", &method), doc)
	if err != nil {
		return nil, err
	}
	r.schemaCache.Store(key, compiled)
	return compiled, nil
}

func toSchemaDoc(method MethodSpec) string {
	properties := make(map[string]map[string]string, len(method.Parameters))
	var required []string
	for name, p := range method.Parameters {
		properties[name] = map[string]string{"type": jsonType(p.Type)}
		if p.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, _ := json.Marshal(doc)
	return string(raw)
}

// jsonType maps the engine's declared parameter types onto JSON Schema
// primitive type names, defaulting to "string" for anything else.
func jsonType(t string) string {
	switch t {
	case "number", "integer", "boolean", "object", "array", "string", "null":
		return t
	default:
		return "string"
	}
}
