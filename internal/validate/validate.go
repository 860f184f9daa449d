package validate

import (
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

// Validator runs pre-execution checks for every tool call: the generic
// shape checks here, then the per-kind rules owned by each executor. It
// never mutates session state.
type Validator struct {
	tools map[session.Kind]tool.Tool
}

func New(tools ...tool.Tool) *Validator {
	m := make(map[session.Kind]tool.Tool, len(tools))
	for _, t := range tools {
		m[t.Kind()] = t
	}
	return &Validator{tools: m}
}

func (v *Validator) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	if !call.Kind.Valid() {
		return tool.Reject("unknown tool kind %q", call.Kind)
	}
	t, ok := v.tools[call.Kind]
	if !ok {
		return tool.Reject("tool %q is not available in this run", call.Kind)
	}
	if call.Op == "" {
		return tool.Reject("missing op")
	}
	if sess == nil {
		return tool.Reject("no session for tool %q", call.Kind)
	}
	if sess.Kind != call.Kind {
		return tool.Reject("call for %q routed to %q session", call.Kind, sess.Kind)
	}
	return t.Validate(call, sess)
}

// Tool returns the executor registered for a kind.
func (v *Validator) Tool(kind session.Kind) (tool.Tool, bool) {
	t, ok := v.tools[kind]
	return t, ok
}

// Schemas lists the declared tool schemas in registration order of kinds.
func (v *Validator) Schemas() []tool.Tool {
	ordered := make([]tool.Tool, 0, len(v.tools))
	for _, kind := range []session.Kind{session.KindEditor, session.KindShell, session.KindDatabase, session.KindDiagram} {
		if t, ok := v.tools[kind]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
