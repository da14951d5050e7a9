package dataset

import (
	"strings"

	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// ResumeState is what a run inherits from an earlier, partial run.
type ResumeState struct {
	Existing []models.Record
	// Used holds every source identifier already present in the output.
	Used    map[string]struct{}
	Deficit int
}

// Resume reads the output of a previous run and works out how many rows are
// still missing to reach target.
func Resume(path string, target int) (*ResumeState, error) {
	existing, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		used[r.ID] = struct{}{}
	}
	deficit := target - len(existing)
	if deficit < 0 {
		deficit = 0
	}
	return &ResumeState{Existing: existing, Used: used, Deficit: deficit}, nil
}

// IsUsed reports whether id was produced by an earlier run.
func (s *ResumeState) IsUsed(id string) bool {
	_, ok := s.Used[id]
	return ok
}

// UsedSeeds returns the source identifiers behind the existing rows. With
// suffixed set, row ids of the form "<seed>-NN" also mark <seed> as used, so
// a seed counts as done whichever of its candidates was kept.
func (s *ResumeState) UsedSeeds(suffixed bool) map[string]struct{} {
	seeds := make(map[string]struct{}, len(s.Used))
	for id := range s.Used {
		seeds[id] = struct{}{}
		if suffixed {
			if seed, ok := cutCandidateSuffix(id); ok {
				seeds[seed] = struct{}{}
			}
		}
	}
	return seeds
}

// cutCandidateSuffix splits "S1-02" into "S1".
func cutCandidateSuffix(id string) (string, bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || len(id)-i-1 < 2 {
		return "", false
	}
	for _, c := range id[i+1:] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return id[:i], true
}

// Checkpointer accumulates rows and rewrites the output file every few
// processed items, so an interrupted run can be resumed.
type Checkpointer struct {
	path      string
	every     int
	records   []models.Record
	processed int
	logger    *zap.Logger
}

// NewCheckpointer starts from the rows already on disk. every <= 0 disables
// periodic saves; Flush still writes.
func NewCheckpointer(path string, every int, existing []models.Record, logger *zap.Logger) *Checkpointer {
	records := make([]models.Record, len(existing))
	copy(records, existing)
	return &Checkpointer{path: path, every: every, records: records, logger: logger}
}

// Add appends a finished row.
func (c *Checkpointer) Add(r models.Record) {
	c.records = append(c.records, r)
}

// Tick marks one item as processed, whether or not it produced a row, and
// saves when a full batch has gone by.
func (c *Checkpointer) Tick() error {
	c.processed++
	if c.every <= 0 || c.processed%c.every != 0 {
		return nil
	}
	return c.Flush()
}

// Flush writes every accumulated row.
func (c *Checkpointer) Flush() error {
	if err := WriteCSV(c.path, c.records); err != nil {
		return err
	}
	c.logger.Info("Checkpoint saved", zap.String("path", c.path), zap.Int("rows", len(c.records)))
	return nil
}

// Records returns the rows accumulated so far.
func (c *Checkpointer) Records() []models.Record {
	return c.records
}

// Len is the number of accumulated rows.
func (c *Checkpointer) Len() int {
	return len(c.records)
}
