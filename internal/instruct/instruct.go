// Package instruct loads the instruction seeds that drive spam synthesis.
// Each seed file is a JSON object with a "data" (or "Data") array; only its
// first element is used.
package instruct

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/extract"
)

var (
	idKeys   = []string{"instruct_id", "id", "UID"}
	textKeys = []string{"instruct_text", "instruction", "prompt", "query"}
)

// Item is one instruct seed.
type Item struct {
	node   *extract.Node
	Source string
}

// LoadItems reads one item per file. Files that cannot be read or hold no
// items are logged and skipped.
func LoadItems(files []string, logger *zap.Logger) []Item {
	items := make([]Item, 0, len(files))
	for _, path := range files {
		item, err := loadFile(path)
		if err != nil {
			logger.Warn("Skipping instruct file", zap.String("file", path), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items
}

func loadFile(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, fmt.Errorf("failed to read: %w", err)
	}
	doc, err := extract.Parse(data)
	if err != nil {
		return Item{}, err
	}

	list := doc.Get("data")
	if !list.Truthy() {
		list = doc.Get("Data")
	}
	if list == nil || list.Kind != extract.KindArray || len(list.Items) == 0 {
		return Item{}, fmt.Errorf("no data items")
	}
	first := list.Items[0]
	if !first.IsObject() {
		return Item{}, fmt.Errorf("first data item is not an object")
	}
	return Item{node: first, Source: path}, nil
}

func (it Item) first(keys []string) string {
	for _, k := range keys {
		if v := it.node.Get(k); v.Truthy() {
			return v.Text()
		}
	}
	return ""
}

// ID returns the seed identifier. Seeds without one get a random "UNK"
// identifier drawn from rng.
func (it Item) ID(rng *rand.Rand) string {
	if id := it.first(idKeys); id != "" {
		return id
	}
	return fmt.Sprintf("UNK%d", rng.Intn(1000000))
}

// Text returns the trimmed instruction text, or "" when there is none.
func (it Item) Text() string {
	return strings.TrimSpace(it.first(textKeys))
}

// NewItem wraps an already parsed object.
func NewItem(node *extract.Node, source string) Item {
	return Item{node: node, Source: source}
}
