package durable_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"inkwell/internal/durable"
	"inkwell/internal/kv"
	"inkwell/internal/testutil"
)

func TestStore_SetGetRemove(t *testing.T) {
	h := newHarness(t)

	if res := h.store.SetItem("inkwell_project_a", `{"id":"a"}`); !res.OK() {
		t.Fatalf("SetItem() error = %v", res.Err)
	}

	res := h.store.GetItem("inkwell_project_a")
	if !res.OK() || !res.Found {
		t.Fatalf("GetItem() = %+v, want found", res)
	}
	if res.Data != `{"id":"a"}` {
		t.Errorf("Data = %q", res.Data)
	}

	if res := h.store.RemoveItem("inkwell_project_a"); !res.OK() {
		t.Fatalf("RemoveItem() error = %v", res.Err)
	}
	if res := h.store.GetItem("inkwell_project_a"); res.Found {
		t.Error("key still present after RemoveItem")
	}
	if res := h.store.RemoveItem("never_there"); !res.OK() {
		t.Errorf("RemoveItem(missing) error = %v", res.Err)
	}
}

func TestStore_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		fail       error
		op         string
		wantKind   durable.ErrorKind
		canRecover bool
	}{
		{"quota sentinel", fmt.Errorf("write: %w", durable.ErrQuotaExceeded), "set", durable.ErrorKindQuota, true},
		{"browser quota name", errors.New("QuotaExceededError: the quota has been exceeded"), "set", durable.ErrorKindQuota, true},
		{"firefox quota name", errors.New("NS_ERROR_DOM_QUOTA_REACHED"), "set", durable.ErrorKindQuota, true},
		{"sqlite full", errors.New("database or disk is full"), "set", durable.ErrorKindQuota, true},
		{"other write failure", errors.New("i/o timeout"), "set", durable.ErrorKindGeneric, true},
		{"read failure", errors.New("malformed page"), "get", durable.ErrorKindCorruption, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.kv.SetFailure(func(op, key string) error {
				if op == tt.op {
					return tt.fail
				}
				return nil
			})

			var res durable.Result
			if tt.op == "set" {
				res = h.store.SetItem("k", "v")
			} else {
				res = h.store.GetItem("k")
			}
			if res.OK() {
				t.Fatal("expected failure")
			}
			if res.Err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", res.Err.Kind, tt.wantKind)
			}
			if res.Err.CanRecover != tt.canRecover {
				t.Errorf("CanRecover = %v, want %v", res.Err.CanRecover, tt.canRecover)
			}
			if len(res.Err.SuggestedActions) == 0 {
				t.Error("SuggestedActions is empty")
			}
		})
	}
}

func TestStore_NotifiesStorageErrors(t *testing.T) {
	h := newHarness(t)
	h.kv.FailQuota()

	var got []*durable.StorageError
	unsub := h.store.OnStorageError(func(e *durable.StorageError) { got = append(got, e) })
	h.store.SetItem("k", "v")
	unsub()
	unsub()
	h.store.SetItem("k", "v")

	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	if got[0].Kind != durable.ErrorKindQuota {
		t.Errorf("Kind = %q, want quota", got[0].Kind)
	}
}

func TestStore_PanickingSubscriberIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.kv.FailQuota()

	calls := 0
	h.store.OnStorageError(func(*durable.StorageError) { panic("boom") })
	h.store.OnStorageError(func(*durable.StorageError) { calls++ })

	res := h.store.SetItem("k", "v")
	if res.OK() {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("second subscriber calls = %d, want 1", calls)
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{durable.ErrQuotaExceeded, true},
		{errors.New("Quota exceeded"), true},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		if got := durable.IsQuotaError(tt.err); got != tt.want {
			t.Errorf("IsQuotaError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStore_QuotaInfo(t *testing.T) {
	t.Run("uses backend estimate", func(t *testing.T) {
		mem := kv.NewMemoryKV(1000)
		store := durable.NewStore(mem, durable.DefaultStoreOptions(), testutil.NewRecordingLogger(), nil)
		if err := mem.Set("k", strings.Repeat("x", 199)); err != nil {
			t.Fatal(err)
		}

		info := store.QuotaInfo(context.Background())
		if info.Quota != 1000 || info.Usage != 400 || info.Available != 600 {
			t.Errorf("QuotaInfo() = %+v", info)
		}
		if info.PercentUsed != 0.4 {
			t.Errorf("PercentUsed = %v, want 0.4", info.PercentUsed)
		}
	})

	t.Run("measures when backend cannot estimate", func(t *testing.T) {
		opts := durable.DefaultStoreOptions()
		opts.FallbackQuota = 100
		h := newHarnessWith(t, opts)
		h.store.SetItem("ab", "cdef")

		info := h.store.QuotaInfo(context.Background())
		if info.Quota != 100 {
			t.Errorf("Quota = %d, want 100", info.Quota)
		}
		if info.Usage != 12 {
			t.Errorf("Usage = %d, want 12", info.Usage)
		}
	})
}

func TestStore_QuotaUpdateNearLimit(t *testing.T) {
	mem := kv.NewMemoryKV(100)
	store := durable.NewStore(mem, durable.DefaultStoreOptions(), testutil.NewRecordingLogger(), nil)

	updates := make(chan durable.QuotaUpdate, 4)
	store.OnQuotaUpdate(func(u durable.QuotaUpdate) { updates <- u })

	// 1 + 40 code units = 82 bytes of 100.
	if res := store.SetItem("k", strings.Repeat("x", 40)); !res.OK() {
		t.Fatalf("SetItem() error = %v", res.Err)
	}
	store.Wait()

	select {
	case u := <-updates:
		if u.Level != durable.QuotaWarning {
			t.Errorf("Level = %q, want warning", u.Level)
		}
	default:
		t.Fatal("no quota update delivered")
	}

	if store.Level(durable.QuotaInfo{PercentUsed: 0.96}) != durable.QuotaCritical {
		t.Error("0.96 should be critical")
	}
	if store.Level(durable.QuotaInfo{PercentUsed: 0.5}) != durable.QuotaNormal {
		t.Error("0.5 should be normal")
	}
}

func TestStore_EmergencyCleanup(t *testing.T) {
	t.Run("removes only disposable keys", func(t *testing.T) {
		h := newHarness(t)
		h.store.SetItem("inkwell_temp_draft", "scratch")
		h.store.SetItem("cache_fonts", "glyphs")
		h.store.SetItem(durable.ProjectKey("p1"), `{"id":"p1"}`)

		report := h.store.EmergencyCleanup()

		want := durable.SizeOf("inkwell_temp_draft", durable.SizeUTF16) + durable.SizeOf("scratch", durable.SizeUTF16) +
			durable.SizeOf("cache_fonts", durable.SizeUTF16) + durable.SizeOf("glyphs", durable.SizeUTF16)
		if report.FreedBytes != want {
			t.Errorf("FreedBytes = %d, want %d", report.FreedBytes, want)
		}
		if _, found := h.rawGet(t, "inkwell_temp_draft"); found {
			t.Error("temp key survived cleanup")
		}
		if _, found := h.rawGet(t, durable.ProjectKey("p1")); !found {
			t.Error("project key was removed")
		}
	})

	t.Run("reports when nothing is disposable", func(t *testing.T) {
		h := newHarness(t)
		h.store.SetItem(durable.ProjectKey("p1"), `{"id":"p1"}`)

		report := h.store.EmergencyCleanup()
		if report.FreedBytes != 0 {
			t.Errorf("FreedBytes = %d, want 0", report.FreedBytes)
		}
		if len(report.Actions) != 1 || report.Actions[0] != "No disposable data found" {
			t.Errorf("Actions = %v", report.Actions)
		}
	})

	t.Run("never fails", func(t *testing.T) {
		h := newHarness(t)
		h.store.SetItem("temp_x", "1")
		h.kv.SetFailure(func(op, key string) error { return errors.New("backend gone") })

		report := h.store.EmergencyCleanup()
		if len(report.Actions) == 0 {
			t.Error("expected an action describing the failure")
		}
	})
}

func TestStore_Keys(t *testing.T) {
	h := newHarness(t)
	h.store.SetItem(durable.ProjectKey("a"), "{}")
	h.store.SetItem(durable.ProjectKey("b"), "{}")
	h.store.SetItem(durable.ChapterKey("a", "c1"), "{}")

	got := h.store.Keys(durable.ProjectKeyPrefix)
	if len(got) != 2 {
		t.Errorf("Keys() = %v, want 2 project keys", got)
	}
}

func TestSizeOf(t *testing.T) {
	tests := []struct {
		in        string
		utf16, u8 int64
	}{
		{"", 0, 0},
		{"abc", 6, 3},
		{"héllo", 10, 6},
		{"😀", 4, 4},
	}
	for _, tt := range tests {
		if got := durable.SizeOf(tt.in, durable.SizeUTF16); got != tt.utf16 {
			t.Errorf("SizeOf(%q, utf16) = %d, want %d", tt.in, got, tt.utf16)
		}
		if got := durable.SizeOf(tt.in, durable.SizeUTF8); got != tt.u8 {
			t.Errorf("SizeOf(%q, utf8) = %d, want %d", tt.in, got, tt.u8)
		}
	}
}

func TestStore_CheckHealth(t *testing.T) {
	t.Run("backend prober", func(t *testing.T) {
		store := durable.NewStore(kv.NewMemoryKV(0), durable.DefaultStoreOptions(), testutil.NewRecordingLogger(), nil)
		if r := store.CheckHealth(context.Background()); !r.Healthy {
			t.Errorf("CheckHealth() = %+v, want healthy", r)
		}
	})

	t.Run("probe key round trip", func(t *testing.T) {
		h := newHarness(t)
		if r := h.store.CheckHealth(context.Background()); !r.Healthy {
			t.Errorf("CheckHealth() = %+v, want healthy", r)
		}
		if n := h.mem.Len(); n != 0 {
			t.Errorf("probe left %d keys behind", n)
		}
	})

	t.Run("failing backend", func(t *testing.T) {
		h := newHarness(t)
		h.kv.FailQuota()
		r := h.store.CheckHealth(context.Background())
		if r.Healthy || r.Error == "" {
			t.Errorf("CheckHealth() = %+v, want unhealthy with error", r)
		}
	})
}
