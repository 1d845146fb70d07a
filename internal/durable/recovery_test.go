package durable_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"inkwell/internal/durable"
	"inkwell/internal/testutil"
)

func sampleBundle() durable.Bundle {
	return durable.Bundle{
		Projects: []durable.Project{
			{ID: "p1", Title: "Novel", Content: "hello world"},
			{ID: "p2", Title: "Poems", Content: "roses"},
		},
		Chapters: []durable.Chapter{
			{ID: "c1", ProjectID: "p1", Title: "Opening", Order: 0},
		},
	}
}

func TestRecovery_ShadowCopyAgeGate(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantErr error
	}{
		{"fresh", time.Hour, nil},
		{"just inside", 6*24*time.Hour + 23*time.Hour, nil},
		{"exactly seven days", 7 * 24 * time.Hour, nil},
		{"too old", 7*24*time.Hour + time.Hour, durable.ErrShadowCopyTooOld},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.recovery(nil)
			b := sampleBundle()
			if err := rec.SaveShadowCopy(b.Projects, b.Chapters); err != nil {
				t.Fatalf("SaveShadowCopy() error = %v", err)
			}
			h.clock.Advance(tt.age)

			res, err := rec.RecoverFromShadowCopy(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecoverFromShadowCopy() error = %v", err)
			}
			if res.Tier != durable.TierShadowCopy || res.RecoveredProjects != 2 || res.RecoveredChapters != 1 {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestRecovery_ShadowCopyMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.recovery(nil).RecoverFromShadowCopy(context.Background())
	if !errors.Is(err, durable.ErrShadowCopyMissing) {
		t.Errorf("error = %v, want ErrShadowCopyMissing", err)
	}
}

func TestRecovery_ShadowCopyFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.SaveProject(ctx, durable.Project{ID: "p1"})
	h.orch.SaveChapter(ctx, durable.Chapter{ID: "c1", ProjectID: "p1"})
	rec := h.recovery(nil)

	summary, err := rec.SaveShadowCopyFromStore()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Projects != 1 || summary.Chapters != 1 || summary.Age != 0 {
		t.Errorf("summary = %+v", summary)
	}

	h.clock.Advance(2 * time.Hour)
	info, err := rec.ShadowCopyInfo()
	if err != nil || info.Age != 2*time.Hour {
		t.Errorf("ShadowCopyInfo() = %+v, %v", info, err)
	}
}

func TestRecovery_Remote(t *testing.T) {
	t.Run("authenticated", func(t *testing.T) {
		h := newHarness(t)
		remote := &testutil.StubRemote{Authenticated: true, Bundle: sampleBundle()}

		res, err := h.recovery(remote).RecoverFromRemote(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Tier != durable.TierRemote || !res.Success || res.RecoveredProjects != 2 {
			t.Errorf("result = %+v", res)
		}
		if p, err := h.orch.LoadProject("p1"); err != nil || p.CurrentWordCount != 2 {
			t.Errorf("LoadProject() = %+v, %v", p, err)
		}
	})

	t.Run("not authenticated", func(t *testing.T) {
		h := newHarness(t)
		remote := &testutil.StubRemote{Bundle: sampleBundle()}

		_, err := h.recovery(remote).RecoverFromRemote(context.Background())
		if !errors.Is(err, durable.ErrNotAuthenticated) {
			t.Errorf("error = %v", err)
		}
		if remote.Pulls() != 0 {
			t.Error("pulled without authentication")
		}
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.recovery(nil).RecoverFromRemote(context.Background())
		if !errors.Is(err, durable.ErrNotAuthenticated) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("empty remote", func(t *testing.T) {
		h := newHarness(t)
		remote := &testutil.StubRemote{Authenticated: true}
		if _, err := h.recovery(remote).RecoverFromRemote(context.Background()); err == nil {
			t.Error("an empty bundle should not count as recovered")
		}
	})
}

func TestRecovery_SkipsInvalidRecords(t *testing.T) {
	h := newHarness(t)
	b := sampleBundle()
	b.Projects = append(b.Projects, durable.Project{ID: "", Title: "nameless"})
	b.Chapters = append(b.Chapters, durable.Chapter{ID: "orphan"})
	remote := &testutil.StubRemote{Authenticated: true, Bundle: b}

	res, err := h.recovery(remote).RecoverFromRemote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.RecoveredProjects != 2 || res.RecoveredChapters != 1 {
		t.Errorf("result = %+v", res)
	}
	if !h.logger.Contains("warn", "skipping invalid") {
		t.Error("skipped records were not logged")
	}
}

func TestRecovery_AttemptRecovery(t *testing.T) {
	t.Run("falls through to shadow copy", func(t *testing.T) {
		h := newHarness(t)
		rec := h.recovery(&testutil.StubRemote{})
		b := sampleBundle()
		rec.SaveShadowCopy(b.Projects, b.Chapters)

		res := rec.AttemptRecovery(context.Background(), durable.RecoveryOptions{AttemptRemote: true, AttemptShadowCopy: true})
		if !res.Success || res.Tier != durable.TierShadowCopy {
			t.Errorf("AttemptRecovery() = %+v", res)
		}
	})

	t.Run("remote wins", func(t *testing.T) {
		h := newHarness(t)
		rec := h.recovery(&testutil.StubRemote{Authenticated: true, Bundle: sampleBundle()})
		rec.SaveShadowCopy(nil, nil)

		res := rec.AttemptRecovery(context.Background(), durable.RecoveryOptions{AttemptRemote: true, AttemptShadowCopy: true})
		if res.Tier != durable.TierRemote {
			t.Errorf("Tier = %q, want remote", res.Tier)
		}
	})

	t.Run("everything fails", func(t *testing.T) {
		h := newHarness(t)
		res := h.recovery(nil).AttemptRecovery(context.Background(), durable.RecoveryOptions{AttemptRemote: true, AttemptShadowCopy: true})
		if res.Success || res.Tier != durable.TierNone {
			t.Errorf("AttemptRecovery() = %+v", res)
		}
		if !strings.Contains(res.Message, "upload a backup file") {
			t.Errorf("Message = %q", res.Message)
		}
		if !strings.Contains(res.Error, string(durable.TierRemote)) || !strings.Contains(res.Error, string(durable.TierShadowCopy)) {
			t.Errorf("Error = %q, want both tier failures", res.Error)
		}
	})

	t.Run("user upload as last resort", func(t *testing.T) {
		h := newHarness(t)
		b := sampleBundle()
		doc, _ := json.Marshal(durable.BackupDocument{InkwellBackup: true, Version: "1.0.0", Data: &b})

		res := h.recovery(nil).AttemptRecovery(context.Background(), durable.RecoveryOptions{
			AttemptShadowCopy: true,
			RequireUserUpload: true,
			UserUpload:        string(doc),
		})
		if !res.Success || res.Tier != durable.TierUserUpload {
			t.Errorf("AttemptRecovery() = %+v", res)
		}
	})

	t.Run("bad upload", func(t *testing.T) {
		h := newHarness(t)
		res := h.recovery(nil).AttemptRecovery(context.Background(), durable.RecoveryOptions{
			RequireUserUpload: true,
			UserUpload:        "{}",
		})
		if res.Success || res.Tier != durable.TierNone || res.Error == "" {
			t.Errorf("AttemptRecovery() = %+v", res)
		}
	})
}

func TestRecovery_UserUploadValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "this is not a backup"},
		{"missing marker", `{"version":"1.0.0","data":{"projects":[],"chapters":[]}}`},
		{"missing data", `{"inkwellBackup":true,"version":"1.0.0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.recovery(nil).RecoverFromUserUpload(context.Background(), tt.text)
			if !errors.Is(err, durable.ErrInvalidBackup) {
				t.Errorf("error = %v, want ErrInvalidBackup", err)
			}
		})
	}
}

func TestRecovery_ExportThenUpload(t *testing.T) {
	src := newHarness(t)
	ctx := context.Background()
	src.orch.SaveProject(ctx, durable.Project{ID: "p1", Content: "exported words", Extra: map[string]any{"pinned": true}})
	src.orch.SaveChapter(ctx, durable.Chapter{ID: "c1", ProjectID: "p1", Order: 1})

	data, err := src.recovery(nil).ExportBackup()
	if err != nil {
		t.Fatalf("ExportBackup() error = %v", err)
	}
	if !strings.Contains(string(data), `"inkwellBackup": true`) {
		t.Errorf("export missing marker:\n%s", data)
	}

	dst := newHarness(t)
	res, err := dst.recovery(nil).RecoverFromUserUpload(ctx, string(data))
	if err != nil {
		t.Fatalf("RecoverFromUserUpload() error = %v", err)
	}
	if res.RecoveredProjects != 1 || res.RecoveredChapters != 1 {
		t.Errorf("result = %+v", res)
	}
	p, err := dst.orch.LoadProject("p1")
	if err != nil || p.Content != "exported words" || p.Extra["pinned"] != true {
		t.Errorf("LoadProject() = %+v, %v", p, err)
	}
}

func TestRecovery_KeepsBackupTimestamps(t *testing.T) {
	src := newHarness(t)
	ctx := context.Background()
	src.orch.SaveProject(ctx, durable.Project{ID: "older", Content: "first"})
	src.clock.Advance(time.Hour)
	src.orch.SaveProject(ctx, durable.Project{ID: "newer", Content: "second"})
	want := map[string]time.Time{}
	for _, p := range src.orch.ListProjects() {
		want[p.ID] = p.UpdatedAt
	}
	data, err := src.recovery(nil).ExportBackup()
	if err != nil {
		t.Fatal(err)
	}

	dst := newHarness(t)
	dst.clock.Advance(24 * time.Hour)
	if _, err := dst.recovery(nil).RecoverFromUserUpload(ctx, string(data)); err != nil {
		t.Fatalf("RecoverFromUserUpload() error = %v", err)
	}

	got := dst.orch.ListProjects()
	if len(got) != 2 || got[0].ID != "newer" || got[1].ID != "older" {
		t.Fatalf("ListProjects() order = %+v", got)
	}
	for _, p := range got {
		if !p.UpdatedAt.Equal(want[p.ID]) {
			t.Errorf("%s UpdatedAt = %v, want %v", p.ID, p.UpdatedAt, want[p.ID])
		}
	}
}

func TestRecovery_CheckStorageHealth(t *testing.T) {
	h := newHarness(t)
	if r := h.recovery(nil).CheckStorageHealth(context.Background()); !r.Healthy {
		t.Errorf("CheckStorageHealth() = %+v", r)
	}
}
