// Package extract pulls the first usable utterance out of raw annotation
// documents. A document looks like
//
//	{"info": [{"id": "...", "filename": "...", "annotations": {...}}]}
//
// where annotations is an arbitrarily nested structure that may carry a
// "lines" array with a transcript.
package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// TextKeys are the keys that may carry utterance text, in priority order.
var TextKeys = []string{
	"text", "message", "msg", "body", "content", "contents",
	"utterance", "utter_text", "utter", "desc", "description", "value",
}

// Strategy names how an utterance was found
type Strategy string

const (
	StrategyLines Strategy = "lines"
	StrategyWalk  Strategy = "walk"
)

// Utterance is the text and identifier found in one document.
type Utterance struct {
	Text     string
	ID       string
	Source   string
	Strategy Strategy
}

// ExtractFile reads and parses path, then runs Extract on it.
func ExtractFile(path string) (Utterance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Utterance{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Utterance{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return Extract(doc, path)
}

// Extract finds the first utterance in doc. path is only used to derive an
// identifier when the document has none. It returns models.ErrNoCandidate
// when nothing usable is present.
func Extract(doc *Node, path string) (Utterance, error) {
	info := doc.Get("info")
	if info == nil || info.Kind != KindArray || len(info.Items) == 0 {
		return Utterance{}, fmt.Errorf("missing info block: %w", models.ErrNoCandidate)
	}
	block := info.Items[0]
	anns := block.Get("annotations")
	if !anns.IsObject() {
		return Utterance{}, fmt.Errorf("missing annotations: %w", models.ErrNoCandidate)
	}

	id := sampleID(block, path)

	if text, ok := firstLine(anns); ok {
		return Utterance{Text: text, ID: id, Source: path, Strategy: StrategyLines}, nil
	}

	for _, raw := range collectTexts(anns, nil) {
		if text, ok := normalize.FirstUtterance(raw); ok {
			return Utterance{Text: text, ID: id, Source: path, Strategy: StrategyWalk}, nil
		}
	}

	return Utterance{}, models.ErrNoCandidate
}

// sampleID prefers block.id, then block.filename, then the file name,
// with the extension removed from file names.
func sampleID(block *Node, path string) string {
	if idNode := block.Get("id"); idNode != nil && idNode.Kind != KindNull {
		if id := idNode.Text(); id != "" {
			return id
		}
	}
	name := filepath.Base(path)
	if fn := block.Get("filename"); fn.Truthy() {
		if s := fn.Text(); s != "" {
			name = s
		}
	}
	return stem(name)
}

func stem(name string) string {
	ext := filepath.Ext(name)
	if ext == name {
		return name
	}
	return name[:len(name)-len(ext)]
}

// firstLine reads lines[0].norm_text, falling back to lines[0].text.
func firstLine(anns *Node) (string, bool) {
	lines := anns.Get("lines")
	if lines == nil || lines.Kind != KindArray || len(lines.Items) == 0 {
		return "", false
	}
	first := lines.Items[0]
	if !first.IsObject() {
		return "", false
	}
	cand := first.Get("norm_text")
	if !cand.Truthy() {
		cand = first.Get("text")
	}
	s, ok := cand.AsString()
	if !ok {
		return "", false
	}
	s = normalize.CleanLine(s)
	if normalize.RuneLen(s) < normalize.MinUtteranceLen {
		return "", false
	}
	return s, true
}

// collectTexts walks n depth first. For each object it records the first
// non-blank text field, then descends into the values in document order.
func collectTexts(n *Node, acc []string) []string {
	switch n.Kind {
	case KindObject:
		if t, ok := textField(n); ok {
			acc = append(acc, t)
		}
		for _, f := range n.Fields {
			acc = collectTexts(f.Value, acc)
		}
	case KindArray:
		for _, item := range n.Items {
			acc = collectTexts(item, acc)
		}
	}
	return acc
}

func textField(n *Node) (string, bool) {
	for _, key := range TextKeys {
		s, ok := n.Get(key).AsString()
		if ok && normalize.CollapseSpaces(s) != "" {
			return s, true
		}
	}
	return "", false
}
