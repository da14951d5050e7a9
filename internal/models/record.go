package models

import "time"

// Label marks a record as legitimate (ham) or spam.
type Label int

const (
	LabelHam  Label = 0
	LabelSpam Label = 1
)

// LabelNames maps labels to the names used in logs and the API
var LabelNames = map[Label]string{
	LabelHam:  "ham",
	LabelSpam: "spam",
}

// Columns is the fixed column order of every dataset table.
var Columns = []string{"text", "id", "length", "has_url", "has_phone", "label"}

// Record is one row of the dataset.
// Length is always the character (rune) count of Text.
type Record struct {
	Text     string `json:"text" db:"text"`
	ID       string `json:"id" db:"source_id"`
	Length   int    `json:"length" db:"length"`
	HasURL   int    `json:"has_url" db:"has_url"`
	HasPhone int    `json:"has_phone" db:"has_phone"`
	Label    Label  `json:"label" db:"label"`
}

// Origin describes how a record was produced
type Origin string

const (
	OriginExtracted Origin = "extracted"
	OriginHamLLM    Origin = "llm_ham"
	OriginSpamLLM   Origin = "llm_spam"
	OriginTemplate  Origin = "template"
)

// LedgerRecord is a record as stored in the run ledger.
type LedgerRecord struct {
	RowID     int64     `json:"row_id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Origin    Origin    `json:"origin" db:"origin"`
	Provider  string    `json:"provider" db:"provider"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Record
}

// Condition is the generation target for synthetic ham.
type Condition struct {
	HasURL   int `json:"has_url"`
	HasPhone int `json:"has_phone"`
}

// HamConditions are the conditions the ham generator draws from.
var HamConditions = []Condition{
	{HasURL: 1, HasPhone: 0},
	{HasURL: 1, HasPhone: 1},
	{HasURL: 0, HasPhone: 1},
}

// RunKind names a pipeline.
type RunKind string

const (
	RunHam     RunKind = "ham"
	RunAugment RunKind = "augment"
	RunSpam    RunKind = "spam"
)

// Run status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Run represents one pipeline execution
type Run struct {
	ID            string     `json:"id" db:"id"`
	Kind          RunKind    `json:"kind" db:"kind"`
	Status        string     `json:"status" db:"status"`
	Output        string     `json:"output" db:"output"`
	Target        int        `json:"target" db:"target"`
	ProducedCount int        `json:"produced_count" db:"produced_count"`
	SkippedCount  int        `json:"skipped_count" db:"skipped_count"`
	FailedCount   int        `json:"failed_count" db:"failed_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
}
