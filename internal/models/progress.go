package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	subjectKeyPrefix = "subject_"
	moduleKeyPrefix  = "module_"
)

// ModuleCompletion is the canonical per-module completion state. Marked is the
// explicit module-level mark written by the boolean toggle.
type ModuleCompletion struct {
	CompletedTopics []int `json:"completedTopics,omitempty"`
	Marked          bool  `json:"completed,omitempty"`
}

// UnmarshalJSON accepts both the per-topic object form and the legacy boolean form.
func (m *ModuleCompletion) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*m = ModuleCompletion{}
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*m = ModuleCompletion{Marked: true}
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*m = ModuleCompletion{}
		return nil
	}
	type plain ModuleCompletion
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return fmt.Errorf("decode module completion: %w", err)
	}
	*m = ModuleCompletion(decoded)
	return nil
}

// IsEmpty reports whether the entry carries no completion at all.
func (m ModuleCompletion) IsEmpty() bool {
	return !m.Marked && len(m.CompletedTopics) == 0
}

// HasTopic reports whether the topic index is in the completed set.
func (m ModuleCompletion) HasTopic(idx int) bool {
	for _, t := range m.CompletedTopics {
		if t == idx {
			return true
		}
	}
	return false
}

// SubjectProgress maps "module_<index>" keys to completion state.
type SubjectProgress map[string]ModuleCompletion

// Module returns the completion entry for the module at idx.
func (p SubjectProgress) Module(idx int) (ModuleCompletion, bool) {
	if p == nil {
		return ModuleCompletion{}, false
	}
	entry, ok := p[ModuleKey(idx)]
	return entry, ok
}

// ProgressRecord is a user's progress document keyed by "subject_<id>".
type ProgressRecord map[string]SubjectProgress

// Subject returns the progress map for a subject, or nil when untouched.
func (r ProgressRecord) Subject(subjectID string) SubjectProgress {
	if r == nil {
		return nil
	}
	return r[SubjectKey(subjectID)]
}

// SubjectIDs returns the subject IDs referenced by the record in ascending order.
// Keys without the subject prefix are ignored.
func (r ProgressRecord) SubjectIDs() []string {
	ids := make([]string, 0, len(r))
	for key := range r {
		if id, ok := ParseSubjectKey(key); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ProgressMutation transforms a record inside a write transaction.
type ProgressMutation func(ProgressRecord) (ProgressRecord, error)

// ProgressDocument is the persisted row for a user's progress record.
type ProgressDocument struct {
	UserID    string         `db:"user_id"`
	Document  types.JSONText `db:"document"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// SubjectKey builds the record key for a subject ID.
func SubjectKey(subjectID string) string {
	return subjectKeyPrefix + subjectID
}

// ModuleKey builds the subject-progress key for a module index.
func ModuleKey(idx int) string {
	return moduleKeyPrefix + strconv.Itoa(idx)
}

// ParseSubjectKey extracts the subject ID from a record key.
func ParseSubjectKey(key string) (string, bool) {
	if !strings.HasPrefix(key, subjectKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, subjectKeyPrefix)
	return id, id != ""
}

// ParseModuleKey extracts a non-negative module index from a subject-progress key.
func ParseModuleKey(key string) (int, bool) {
	if !strings.HasPrefix(key, moduleKeyPrefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(key, moduleKeyPrefix))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// DecodeProgressRecord parses a stored document without ever failing. A value
// that cannot be decoded keeps its key with an empty entry so the record's
// structure survives; the paths of such values are returned. An empty or
// non-object document yields an empty record.
func DecodeProgressRecord(raw []byte) (ProgressRecord, []string) {
	record := ProgressRecord{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return record, nil
	}
	var subjects map[string]json.RawMessage
	if err := json.Unmarshal(raw, &subjects); err != nil {
		return record, []string{"$"}
	}

	var malformed []string
	for subjectKey, subjectRaw := range subjects {
		var modules map[string]json.RawMessage
		if err := json.Unmarshal(subjectRaw, &modules); err != nil {
			record[subjectKey] = SubjectProgress{}
			malformed = append(malformed, subjectKey)
			continue
		}
		progress := make(SubjectProgress, len(modules))
		for moduleKey, moduleRaw := range modules {
			var entry ModuleCompletion
			if err := json.Unmarshal(moduleRaw, &entry); err != nil {
				entry = ModuleCompletion{}
				malformed = append(malformed, subjectKey+"."+moduleKey)
			}
			progress[moduleKey] = entry
		}
		record[subjectKey] = progress
	}
	sort.Strings(malformed)
	return record, malformed
}

// Encode serialises the record for storage.
func (r ProgressRecord) Encode() (types.JSONText, error) {
	if r == nil {
		return types.JSONText(`{}`), nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode progress record: %w", err)
	}
	return types.JSONText(payload), nil
}
