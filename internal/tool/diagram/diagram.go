package diagram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"taskbench/internal/errinfo"
	"taskbench/internal/llm"
	"taskbench/internal/session"
	"taskbench/internal/tool"
)

const (
	OpCreate     = "create"
	OpAddNode    = "add_node"
	OpAddEdge    = "add_edge"
	OpRemoveNode = "remove_node"
	OpRemoveEdge = "remove_edge"
	OpSetStyle   = "set_style"
	OpConvert    = "convert"
	OpRender     = "render"
	OpHistory    = "history"
)

// Diagram edits a mermaid document held in session state. Every mutation
// appends a revision; the current source is persisted as a fenced block in
// a markdown file under the diagram directory.
type Diagram struct {
	dir      string
	renderer *Renderer
}

type Option func(*Diagram)

func WithDir(dir string) Option {
	return func(d *Diagram) { d.dir = dir }
}

func WithRenderer(r *Renderer) Option {
	return func(d *Diagram) { d.renderer = r }
}

func New(opts ...Option) *Diagram {
	d := &Diagram{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Diagram) Kind() session.Kind {
	return session.KindDiagram
}

func (d *Diagram) Validate(call tool.Call, sess *session.Session) tool.Outcome {
	switch call.Op {
	case OpCreate:
		typ := Type(tool.StringArg(call.Args, "type"))
		if typ == "" {
			return tool.Reject("type is required")
		}
		if !typ.Valid() {
			return tool.Reject("unsupported diagram type %q (flowchart or graph)", typ)
		}
		if dir := tool.StringArg(call.Args, "direction"); dir != "" && !validDirections[strings.ToUpper(dir)] {
			return tool.Reject("unknown direction %q", dir)
		}
		return tool.Accept()
	case OpAddNode, OpAddEdge, OpRemoveNode, OpRemoveEdge, OpSetStyle, OpConvert, OpRender, OpHistory:
	default:
		return tool.Reject("unknown diagram op %q", call.Op)
	}
	st, _ := sess.Resource.(*State)
	if st == nil || st.Doc == nil {
		return tool.Reject("no diagram in this session; create one first")
	}
	switch call.Op {
	case OpAddNode:
		id := tool.StringArg(call.Args, "id")
		if id == "" {
			return tool.Reject("id is required")
		}
		if st.Doc.findNode(id) >= 0 {
			return tool.Reject("node %q already exists", id)
		}
	case OpAddEdge, OpRemoveEdge:
		if tool.StringArg(call.Args, "from") == "" || tool.StringArg(call.Args, "to") == "" {
			return tool.Reject("from and to are required")
		}
	case OpRemoveNode:
		if tool.StringArg(call.Args, "id") == "" {
			return tool.Reject("id is required")
		}
	case OpSetStyle:
		if tool.StringArg(call.Args, "directive") == "" {
			return tool.Reject("directive is required")
		}
	case OpConvert:
		typ := Type(tool.StringArg(call.Args, "type"))
		dir := tool.StringArg(call.Args, "direction")
		if typ == "" && dir == "" {
			return tool.Reject("convert needs a type or direction")
		}
		if typ != "" && !typ.Valid() {
			return tool.Reject("unsupported diagram type %q", typ)
		}
		if dir != "" && !validDirections[strings.ToUpper(dir)] {
			return tool.Reject("unknown direction %q", dir)
		}
	}
	return tool.Accept()
}

func (d *Diagram) Execute(ctx context.Context, call tool.Call, sess *session.Session) (tool.Result, error) {
	st := stateOf(sess, d.dir)
	switch call.Op {
	case OpCreate:
		return d.create(st, call)
	case OpAddNode:
		return d.addNode(st, call)
	case OpAddEdge:
		return d.addEdge(st, call)
	case OpRemoveNode:
		return d.removeNode(st, call)
	case OpRemoveEdge:
		return d.removeEdge(st, call)
	case OpSetStyle:
		return d.setStyle(st, call)
	case OpConvert:
		return d.convert(st, call)
	case OpRender:
		return d.render(ctx, st, sess)
	case OpHistory:
		return d.history(st)
	}
	return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("unknown diagram op %q", call.Op)), nil
}

func (d *Diagram) create(st *State, call tool.Call) (tool.Result, error) {
	typ := Type(tool.StringArg(call.Args, "type"))
	direction := strings.ToUpper(tool.StringArg(call.Args, "direction"))
	if direction == "" {
		direction = "TD"
	}
	title := tool.StringArg(call.Args, "title")
	st.Doc = NewDocument(title, typ, direction)
	rev := st.Doc.commit(OpCreate, fmt.Sprintf("created %s %s diagram", typ, direction))
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Created %s diagram (revision %d).", typ, rev.Seq), st.path()), nil
}

func (d *Diagram) addNode(st *State, call tool.Call) (tool.Result, error) {
	node := Node{
		ID:    tool.StringArg(call.Args, "id"),
		Label: tool.StringArg(call.Args, "label"),
		Shape: tool.StringArg(call.Args, "shape"),
	}
	if st.Doc.findNode(node.ID) >= 0 {
		return tool.Fail(errinfo.KindValidationFailed, fmt.Sprintf("node %q already exists", node.ID)), nil
	}
	st.Doc.Nodes = append(st.Doc.Nodes, node)
	rev := st.Doc.commit(OpAddNode, "added node "+node.ID)
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Added node %s (revision %d).", node.ID, rev.Seq), "1 node added"), nil
}

func (d *Diagram) addEdge(st *State, call tool.Call) (tool.Result, error) {
	from := tool.StringArg(call.Args, "from")
	to := tool.StringArg(call.Args, "to")
	for _, id := range []string{from, to} {
		if st.Doc.findNode(id) < 0 {
			return tool.Fail(errinfo.KindDanglingReference,
				fmt.Sprintf("edge references unknown node %q (nodes: %s)", id, strings.Join(st.Doc.nodeIDs(), ", "))), nil
		}
	}
	edge := Edge{From: from, To: to, Label: tool.StringArg(call.Args, "label")}
	st.Doc.Edges = append(st.Doc.Edges, edge)
	rev := st.Doc.commit(OpAddEdge, fmt.Sprintf("added edge %s->%s", from, to))
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Added edge %s -> %s (revision %d).", from, to, rev.Seq), "1 edge added"), nil
}

func (d *Diagram) removeNode(st *State, call tool.Call) (tool.Result, error) {
	id := tool.StringArg(call.Args, "id")
	idx := st.Doc.findNode(id)
	if idx < 0 {
		return tool.Fail(errinfo.KindDanglingReference, fmt.Sprintf("node %q does not exist", id)), nil
	}
	st.Doc.Nodes = append(st.Doc.Nodes[:idx], st.Doc.Nodes[idx+1:]...)
	// Edges touching the node go with it.
	kept := st.Doc.Edges[:0]
	dropped := 0
	for _, e := range st.Doc.Edges {
		if e.From == id || e.To == id {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	st.Doc.Edges = kept
	rev := st.Doc.commit(OpRemoveNode, fmt.Sprintf("removed node %s and %d edge(s)", id, dropped))
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Removed node %s (revision %d).", id, rev.Seq),
		fmt.Sprintf("1 node and %d edge(s) removed", dropped)), nil
}

func (d *Diagram) removeEdge(st *State, call tool.Call) (tool.Result, error) {
	from := tool.StringArg(call.Args, "from")
	to := tool.StringArg(call.Args, "to")
	idx := st.Doc.findEdge(from, to)
	if idx < 0 {
		return tool.Fail(errinfo.KindDanglingReference, fmt.Sprintf("edge %s->%s does not exist", from, to)), nil
	}
	st.Doc.Edges = append(st.Doc.Edges[:idx], st.Doc.Edges[idx+1:]...)
	rev := st.Doc.commit(OpRemoveEdge, fmt.Sprintf("removed edge %s->%s", from, to))
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Removed edge %s -> %s (revision %d).", from, to, rev.Seq), "1 edge removed"), nil
}

var styleNodeRef = regexp.MustCompile(`^(?:style|class)\s+(\S+)`)

func (d *Diagram) setStyle(st *State, call tool.Call) (tool.Result, error) {
	directive := tool.StringArg(call.Args, "directive")
	if m := styleNodeRef.FindStringSubmatch(directive); m != nil {
		if st.Doc.findNode(m[1]) < 0 {
			return tool.Fail(errinfo.KindDanglingReference, fmt.Sprintf("style references unknown node %q", m[1])), nil
		}
	}
	st.Doc.Styles = append(st.Doc.Styles, directive)
	rev := st.Doc.commit(OpSetStyle, "added style directive")
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Style applied (revision %d).", rev.Seq), directive), nil
}

func (d *Diagram) convert(st *State, call tool.Call) (tool.Result, error) {
	if typ := Type(tool.StringArg(call.Args, "type")); typ != "" {
		st.Doc.Type = typ
	}
	if direction := tool.StringArg(call.Args, "direction"); direction != "" {
		st.Doc.Direction = strings.ToUpper(direction)
	}
	rev := st.Doc.commit(OpConvert, fmt.Sprintf("converted to %s %s", st.Doc.Type, st.Doc.Direction))
	if err := st.persist(); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects(fmt.Sprintf("Converted to %s %s (revision %d).", st.Doc.Type, st.Doc.Direction, rev.Seq), "type changed"), nil
}

func (d *Diagram) render(ctx context.Context, st *State, sess *session.Session) (tool.Result, error) {
	if sess.NoExec {
		return tool.OkWithEffects("in mock mode, diagram not rendered\n\n"+st.Doc.Render(), "none"), nil
	}
	if d.renderer == nil {
		return tool.Fail(errinfo.KindResourceUnavailable, "no renderer configured"), nil
	}
	png, err := d.renderer.RenderPNG(ctx, st.Doc.Render())
	if err != nil {
		return tool.Fail(errinfo.KindResourceUnavailable, err.Error()), nil
	}
	out := strings.TrimSuffix(st.path(), ".md") + ".png"
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return tool.Result{}, err
	}
	return tool.OkWithEffects("Diagram rendered to "+out, fmt.Sprintf("%d bytes", len(png))), nil
}

func (d *Diagram) history(st *State) (tool.Result, error) {
	var sb strings.Builder
	for _, rev := range st.Doc.Revisions {
		sb.WriteString(fmt.Sprintf("#%d %s: %s (%s)\n", rev.Seq, rev.Op, rev.Summary, rev.At.Format("15:04:05")))
	}
	if sb.Len() == 0 {
		return tool.Ok("No revisions."), nil
	}
	return tool.Ok(sb.String()), nil
}

func (d *Diagram) Schema() llm.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"op": map[string]any{
				"type":        "string",
				"enum":        []string{OpCreate, OpAddNode, OpAddEdge, OpRemoveNode, OpRemoveEdge, OpSetStyle, OpConvert, OpRender, OpHistory},
				"description": "Diagram operation to perform",
			},
			"type":      map[string]any{"type": "string", "description": "Diagram type: flowchart or graph"},
			"direction": map[string]any{"type": "string", "description": "Layout direction: TD, LR, BT, or RL"},
			"title":     map[string]any{"type": "string", "description": "Diagram title, also names the persisted file"},
			"id":        map[string]any{"type": "string", "description": "Node identifier"},
			"label":     map[string]any{"type": "string", "description": "Node or edge label"},
			"shape":     map[string]any{"type": "string", "description": "Node shape: box, round, stadium, diamond, circle"},
			"from":      map[string]any{"type": "string", "description": "Edge source node id"},
			"to":        map[string]any{"type": "string", "description": "Edge target node id"},
			"directive": map[string]any{"type": "string", "description": "Raw mermaid style or class directive"},
		},
		"required": []string{"op"},
	}
	raw, _ := json.Marshal(schema)
	return llm.Tool{
		Name:        string(session.KindDiagram),
		Description: "Build and edit a mermaid diagram. Every edit appends a revision; render produces a PNG.",
		InputSchema: raw,
	}
}

// State is the diagram session resource: the document and where it persists.
type State struct {
	Doc *Document
	Dir string
}

func (s *State) path() string {
	name := "diagram"
	if s.Doc != nil && s.Doc.Title != "" {
		name = slugify(s.Doc.Title)
	}
	return filepath.Join(s.Dir, name+".md")
}

func (s *State) persist() error {
	if s.Dir == "" || s.Doc == nil {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path(), []byte(s.Doc.Markdown()), 0o644)
}

func (s *State) Close(ctx context.Context) error {
	return s.persist()
}

func (s *State) Describe() map[string]any {
	if s.Doc == nil {
		return map[string]any{"diagram": nil}
	}
	return map[string]any{
		"type":      string(s.Doc.Type),
		"direction": s.Doc.Direction,
		"nodes":     len(s.Doc.Nodes),
		"edges":     len(s.Doc.Edges),
		"revisions": len(s.Doc.Revisions),
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "diagram"
	}
	return slug
}

func stateOf(sess *session.Session, dir string) *State {
	if st, ok := sess.Resource.(*State); ok {
		return st
	}
	st := &State{Dir: dir}
	sess.Resource = st
	return st
}
