package durable_test

import (
	"testing"

	"inkwell/internal/durable"
)

func TestKeyMatcher(t *testing.T) {
	m := durable.NewKeyMatcher([]string{
		"# comment",
		"",
		"inkwell_temp_*",
		"scratch_",
		"draft_?",
		"[bad",
	})

	tests := []struct {
		key  string
		want bool
	}{
		{"inkwell_temp_health_1", true},
		{"inkwell_temp_", true},
		{"scratch_notes", true},
		{"draft_1", true},
		{"draft_12", false},
		{"inkwell_project_p1", false},
		{"inkwell_snapshot_index", false},
		{"# comment", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := m.Match(tt.key); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestDefaultDisposablePatterns(t *testing.T) {
	m := durable.NewKeyMatcher(durable.DefaultDisposablePatterns)
	for _, reserved := range []string{
		durable.QueueKey,
		durable.SnapshotIndexKey,
		durable.SnapshotKeyPrefix + "p1_1",
		durable.ShadowCopyKey,
		durable.ProjectKey("p1"),
		durable.ChapterKey("p1", "c1"),
	} {
		if m.Match(reserved) {
			t.Errorf("reserved key %q is disposable", reserved)
		}
	}
	if !m.Match("cache_thumbnails") {
		t.Error("cache_thumbnails should be disposable")
	}
}
