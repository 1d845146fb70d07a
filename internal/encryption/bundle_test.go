package encryption_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/durable"
	"inkwell/internal/encryption"
	"inkwell/internal/remote"
	"inkwell/internal/testutil"
)

const bundlePassphrase = "correct horse"

func sealedClient(t *testing.T, b remote.Backend, enc durable.Encryptor) *remote.Client {
	t.Helper()
	unlock := func() (durable.DecryptionContext, error) { return enc.Unlock(bundlePassphrase) }
	clock := testutil.NewStubClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return remote.NewClient(b, enc, unlock, "laptop", clock, nil)
}

func newEncryptor(t *testing.T, typ string) durable.Encryptor {
	t.Helper()
	dir := t.TempDir()
	enc, err := encryption.NewEncryptorFromConfig(config.EncryptionConfig{
		Type:           typ,
		PublicKeyPath:  filepath.Join(dir, "inkwell.pub"),
		PrivateKeyPath: filepath.Join(dir, "inkwell.key"),
	})
	if err != nil {
		t.Fatalf("NewEncryptorFromConfig(%q) error = %v", typ, err)
	}
	if !enc.IsConfigured() {
		if err := enc.Setup(bundlePassphrase); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}
	return enc
}

func bundle() durable.Bundle {
	return durable.Bundle{
		Projects: []durable.Project{{ID: "p1", Title: "Novel", Content: "it was a dark and stormy night"}},
		Chapters: []durable.Chapter{{ID: "c1", ProjectID: "p1", Title: "Storm", Order: 0}},
	}
}

func TestSealedBundle_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		typ        string
		wantPrefix string
		secret     bool
	}{
		{name: "age", typ: "age", wantPrefix: "age-encryption.org/v1", secret: true},
		{name: "test", typ: "test", wantPrefix: "INKENC\x00\x01\x28\xb5\x2f\xfd"},
		{name: "none", typ: "none", wantPrefix: "\x28\xb5\x2f\xfd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := remote.NewMemoryBackend("mem")
			c := sealedClient(t, b, newEncryptor(t, tt.typ))

			if err := c.Push(ctx, bundle()); err != nil {
				t.Fatalf("Push() error = %v", err)
			}

			var raw bytes.Buffer
			if err := b.Get(ctx, remote.BundleObject, &raw); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if tt.secret && bytes.Contains(raw.Bytes(), []byte("stormy night")) {
				t.Error("stored object contains plaintext content")
			}
			if !bytes.HasPrefix(raw.Bytes(), []byte(tt.wantPrefix)) {
				t.Errorf("stored object starts with %q, want %q", raw.Bytes()[:min(len(raw.Bytes()), 24)], tt.wantPrefix)
			}

			got, err := c.PullFromCloud(ctx)
			if err != nil {
				t.Fatalf("PullFromCloud() error = %v", err)
			}
			if len(got.Projects) != 1 || got.Projects[0].Content != "it was a dark and stormy night" {
				t.Errorf("Projects = %+v", got.Projects)
			}
			if len(got.Chapters) != 1 || got.Chapters[0].Title != "Storm" {
				t.Errorf("Chapters = %+v", got.Chapters)
			}
		})
	}
}

func TestSealedBundle_Deterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	enc := encryption.NewTestEncryptor()

	var sealed [2][]byte
	for i := range sealed {
		b := remote.NewMemoryBackend("mem")
		if err := sealedClient(t, b, enc).Push(ctx, bundle()); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		var raw bytes.Buffer
		if err := b.Get(ctx, remote.BundleObject, &raw); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		sealed[i] = raw.Bytes()
	}
	if !bytes.Equal(sealed[0], sealed[1]) {
		t.Error("same bundle and clock produced different sealed objects")
	}
}

func TestSealedBundle_WrongEncryptorRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sealAs string
		openAs string
	}{
		{name: "age object opened by test", sealAs: "age", openAs: "test"},
		{name: "test object opened by age", sealAs: "test", openAs: "age"},
		{name: "test object opened by none", sealAs: "test", openAs: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := remote.NewMemoryBackend("mem")
			if err := sealedClient(t, b, newEncryptor(t, tt.sealAs)).Push(ctx, bundle()); err != nil {
				t.Fatalf("Push() error = %v", err)
			}
			if _, err := sealedClient(t, b, newEncryptor(t, tt.openAs)).PullFromCloud(ctx); err == nil {
				t.Error("PullFromCloud() succeeded with the wrong encryptor")
			}
		})
	}
}

func TestTestDecryptionContext_RejectsBadHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "truncated", input: []byte("INK")},
		{name: "wrong header", input: []byte("NOT_VALID_HEADER_data")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx, err := encryption.NewTestEncryptor().Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var out bytes.Buffer
			if err := ctx.Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() accepted a bad header")
			}
		})
	}
}
