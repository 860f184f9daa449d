package diagram

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type is the diagram family. Structural node/edge edits apply to the graph
// families; other families would need their own edit grammar.
type Type string

const (
	TypeFlowchart Type = "flowchart"
	TypeGraph     Type = "graph"
)

func (t Type) Valid() bool {
	return t == TypeFlowchart || t == TypeGraph
}

var validDirections = map[string]bool{"TD": true, "TB": true, "LR": true, "RL": true, "BT": true}

// Node is one diagram node. Shape picks the mermaid bracket form.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Shape string `json:"shape,omitempty"`
}

// Edge connects two existing nodes.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Revision is one entry of the append-only history. Text is the full
// rendered source at that point, so history doubles as a version store.
type Revision struct {
	Seq     int       `json:"seq"`
	Op      string    `json:"op"`
	Summary string    `json:"summary"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Document is the current diagram plus its revision history. Mutating
// operations derive a new state and append a revision, never rewrite one.
type Document struct {
	Title     string     `json:"title"`
	Type      Type       `json:"type"`
	Direction string     `json:"direction"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Styles    []string   `json:"styles"`
	Revisions []Revision `json:"revisions"`
}

func NewDocument(title string, typ Type, direction string) *Document {
	return &Document{Title: title, Type: typ, Direction: direction}
}

func (d *Document) findNode(id string) int {
	for i, n := range d.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) findEdge(from, to string) int {
	for i, e := range d.Edges {
		if e.From == from && e.To == to {
			return i
		}
	}
	return -1
}

// commit appends a revision reflecting the document after a mutation.
func (d *Document) commit(op, summary string) Revision {
	rev := Revision{
		Seq:     len(d.Revisions) + 1,
		Op:      op,
		Summary: summary,
		Text:    d.Render(),
		At:      time.Now().UTC(),
	}
	d.Revisions = append(d.Revisions, rev)
	return rev
}

// Render serializes the document to mermaid source.
func (d *Document) Render() string {
	var sb strings.Builder
	sb.WriteString(string(d.Type))
	if d.Direction != "" {
		sb.WriteString(" " + d.Direction)
	}
	sb.WriteString("\n")
	for _, n := range d.Nodes {
		sb.WriteString("    " + renderNode(n) + "\n")
	}
	for _, e := range d.Edges {
		if e.Label != "" {
			sb.WriteString(fmt.Sprintf("    %s -->|%s| %s\n", e.From, e.Label, e.To))
		} else {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", e.From, e.To))
		}
	}
	for _, s := range d.Styles {
		sb.WriteString("    " + s + "\n")
	}
	return sb.String()
}

func renderNode(n Node) string {
	label := n.Label
	if label == "" {
		label = n.ID
	}
	switch n.Shape {
	case "round":
		return fmt.Sprintf("%s(%q)", n.ID, label)
	case "stadium":
		return fmt.Sprintf("%s([%q])", n.ID, label)
	case "diamond", "decision":
		return fmt.Sprintf("%s{%q}", n.ID, label)
	case "circle":
		return fmt.Sprintf("%s((%q))", n.ID, label)
	default:
		return fmt.Sprintf("%s[%q]", n.ID, label)
	}
}

// Markdown wraps the mermaid source in a fenced block for .md persistence.
func (d *Document) Markdown() string {
	var sb strings.Builder
	if d.Title != "" {
		sb.WriteString("# " + d.Title + "\n\n")
	}
	sb.WriteString("```mermaid\n")
	sb.WriteString(d.Render())
	sb.WriteString("```\n")
	return sb.String()
}

func (d *Document) nodeIDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}
