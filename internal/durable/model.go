package durable

import (
	"encoding/json"
	"strings"
	"time"
)

// Reserved storage keys. They are stable across versions.
const (
	QueueKey          = "inkwell_offline_queue"
	SnapshotIndexKey  = "inkwell_snapshot_index"
	SnapshotKeyPrefix = "inkwell_snapshot_data_"
	ShadowCopyKey     = "inkwell_shadow_copy"
	ProjectKeyPrefix  = "inkwell_project_"
	ChapterKeyPrefix  = "inkwell_chapter_"
)

// ProjectKey returns the primary storage key for a project.
func ProjectKey(id string) string { return ProjectKeyPrefix + id }

// ChapterKey returns the storage key for a chapter of a project.
func ChapterKey(projectID, chapterID string) string {
	return ChapterKeyPrefix + projectID + "_" + chapterID
}

// Project is the writing project payload. Beyond the fields the persistence
// layer needs, it is opaque: unknown JSON fields are kept in Extra and
// written back unchanged.
type Project struct {
	ID               string         `json:"id"`
	Title            string         `json:"title,omitempty"`
	Content          string         `json:"content,omitempty"`
	CurrentWordCount int            `json:"currentWordCount"`
	Chapters         []Chapter      `json:"chapters,omitempty"`
	CreatedAt        time.Time      `json:"createdAt,omitzero"`
	UpdatedAt        time.Time      `json:"updatedAt,omitzero"`
	Extra            map[string]any `json:"-"`
}

var projectFields = []string{"id", "title", "content", "currentWordCount", "chapters", "createdAt", "updatedAt"}

type plainProject Project

func (p Project) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(plainProject(p))
	if err != nil || len(p.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (p *Project) UnmarshalJSON(data []byte) error {
	var plain plainProject
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, f := range projectFields {
		delete(all, f)
	}
	*p = Project(plain)
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// Chapter belongs to a project.
type Chapter struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	WordCount int    `json:"wordCount"`
	Order     int    `json:"order"`
}

// Bundle is a full set of projects and chapters, the unit exchanged with the
// remote tier and with backup files.
type Bundle struct {
	Projects []Project `json:"projects"`
	Chapters []Chapter `json:"chapters"`
}

// CountWords splits on whitespace and counts the non-empty pieces.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
