package stage

import (
	"strings"

	"github.com/forward/river/pkg/record"
)

// Minifier prunes records down to exactly the property paths the rest of the chain reads,
// preserving nesting. Selectors sharing a prefix share intermediate containers in the output. With
// a "*" projection there is nothing to prune and the minifier passes records through unchanged.
type Minifier struct {
	base
	star      bool
	selectors *selectorNode
}

// selectorNode is one level of the selector tree. A terminal node copies the whole value at its
// path.
type selectorNode struct {
	children map[string]*selectorNode
	terminal bool
}

var _ Stage = &Minifier{}

// NewMinifier creates a minifier for the given dot-joined property paths. An empty selector list or
// star makes it a pass-through.
func NewMinifier(selectors []string, star bool) *Minifier {
	m := &Minifier{
		base: newBase("minify"),
		star: star || len(selectors) == 0,
	}
	if m.star {
		return m
	}

	root := &selectorNode{children: map[string]*selectorNode{}}
	for _, sel := range selectors {
		node := root
		for _, seg := range strings.Split(sel, ".") {
			if node.terminal {
				// A shorter selector already covers this branch.
				break
			}
			child, ok := node.children[seg]
			if !ok {
				child = &selectorNode{children: map[string]*selectorNode{}}
				node.children[seg] = child
			}
			node = child
		}
		node.terminal = true
	}
	m.selectors = root

	return m
}

func (m *Minifier) Insert(rec record.Record) error {
	return m.emitInsert(m.minify(rec))
}

func (m *Minifier) Remove(rec record.Record) error {
	return m.emitRemove(m.minify(rec))
}

func (m *Minifier) InsertRemove(ins, rem record.Record) error {
	return m.emitInsertRemove(m.minify(ins), m.minify(rem))
}

// minify builds a new record containing only the selected branches of rec.
func (m *Minifier) minify(rec record.Record) record.Record {
	if m.star {
		return rec
	}

	out := record.New()
	pruneInto(out, rec, m.selectors)
	return out
}

func pruneInto(out, in record.Record, node *selectorNode) {
	for seg, child := range node.children {
		val, ok := in[seg]
		if !ok {
			continue
		}

		if child.terminal {
			out[seg] = record.CopyValue(val)
			continue
		}

		sub, ok := val.(map[string]any)
		if !ok {
			// The selector descends below a non-map value; the branch is absent.
			continue
		}

		nested, ok := out[seg].(map[string]any)
		if !ok {
			nested = record.New()
			out[seg] = nested
		}
		pruneInto(nested, sub, child)
	}
}
