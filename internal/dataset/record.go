// Package dataset builds, samples and persists dataset tables.
package dataset

import (
	"math/rand"

	"github.com/yoon0701/ZeroGravity/internal/detect"
	"github.com/yoon0701/ZeroGravity/internal/models"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// NewHamRecord builds a ham row whose flags come from the regex detectors.
func NewHamRecord(text, id string) models.Record {
	hasURL, hasPhone := detect.Features(text)
	return models.Record{
		Text:     text,
		ID:       id,
		Length:   normalize.RuneLen(text),
		HasURL:   hasURL,
		HasPhone: hasPhone,
		Label:    models.LabelHam,
	}
}

// NewSyntheticHamRecord builds a generated ham row. The flags are the
// condition the text was generated for.
func NewSyntheticHamRecord(text, id string, cond models.Condition) models.Record {
	return models.Record{
		Text:     text,
		ID:       id,
		Length:   normalize.RuneLen(text),
		HasURL:   cond.HasURL,
		HasPhone: cond.HasPhone,
		Label:    models.LabelHam,
	}
}

// NewSpamRecord builds a spam row. Placeholder tokens count as matches.
func NewSpamRecord(text, id string) models.Record {
	hasURL, hasPhone := detect.PlaceholderFeatures(text)
	return models.Record{
		Text:     text,
		ID:       id,
		Length:   normalize.RuneLen(text),
		HasURL:   hasURL,
		HasPhone: hasPhone,
		Label:    models.LabelSpam,
	}
}

// Dedupe drops every record whose text was already seen, keeping the first.
func Dedupe(records []models.Record) []models.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Text]; ok {
			continue
		}
		seen[r.Text] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Sample picks n records uniformly without replacement. The same seed
// always yields the same rows in the same order. When there are n or fewer
// records they are returned unchanged.
func Sample(records []models.Record, n int, seed int64) []models.Record {
	if n < 0 {
		n = 0
	}
	if len(records) <= n {
		out := make([]models.Record, len(records))
		copy(out, records)
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]models.Record, 0, n)
	for _, i := range rng.Perm(len(records))[:n] {
		out = append(out, records[i])
	}
	return out
}

// Assemble dedupes by text and caps the result at target rows.
func Assemble(records []models.Record, target int, seed int64) []models.Record {
	return Sample(Dedupe(records), target, seed)
}
