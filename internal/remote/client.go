package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"inkwell/internal/durable"
)

// BundleObject is the object name a device's bundle is stored under.
const BundleObject = "inkwell-bundle.zst.age"

// envelopeVersion is bumped when the envelope layout changes.
const envelopeVersion = "1"

// envelope is the JSON document that gets compressed and sealed.
type envelope struct {
	Version  string         `json:"version"`
	DeviceID string         `json:"deviceId"`
	PushedAt time.Time      `json:"pushedAt"`
	Bundle   durable.Bundle `json:"bundle"`
}

// UnlockFunc produces a decryption context on demand, typically by prompting
// for a passphrase. It is only called when a pull actually needs one.
type UnlockFunc func() (durable.DecryptionContext, error)

// Client pushes and pulls whole bundles. Objects are JSON, compressed with
// zstd, then encrypted with the configured Encryptor.
type Client struct {
	backend   Backend
	encryptor durable.Encryptor
	unlock    UnlockFunc
	deviceID  string
	clock     durable.Clock
	logger    durable.Logger
}

var _ durable.RemoteSync = (*Client)(nil)

// NewClient creates a sync client. unlock may be nil for push-only use.
func NewClient(backend Backend, encryptor durable.Encryptor, unlock UnlockFunc, deviceID string, clock durable.Clock, logger durable.Logger) *Client {
	if clock == nil {
		clock = durable.RealClock{}
	}
	if logger == nil {
		logger = durable.NewNopLogger()
	}
	return &Client{
		backend:   backend,
		encryptor: encryptor,
		unlock:    unlock,
		deviceID:  deviceID,
		clock:     clock,
		logger:    logger,
	}
}

// IsAuthenticated reports whether keys are configured and the backend
// accepts our credentials.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	if !c.encryptor.IsConfigured() {
		return false
	}
	if err := c.backend.ValidateSetup(ctx); err != nil {
		c.logger.Debug("remote not reachable", "error", err)
		return false
	}
	return true
}

// Push seals b and replaces the stored bundle.
func (c *Client) Push(ctx context.Context, b durable.Bundle) error {
	doc := envelope{
		Version:  envelopeVersion,
		DeviceID: c.deviceID,
		PushedAt: c.clock.Now().UTC(),
		Bundle:   b,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return fmt.Errorf("compressing bundle: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compressing bundle: %w", err)
	}

	var sealed bytes.Buffer
	if err := c.encryptor.Encrypt(&compressed, &sealed); err != nil {
		return fmt.Errorf("encrypting bundle: %w", err)
	}

	size := int64(sealed.Len())
	if err := c.backend.Put(ctx, BundleObject, &sealed, size); err != nil {
		return fmt.Errorf("uploading bundle: %w", err)
	}
	c.logger.Info("bundle pushed",
		"projects", len(b.Projects), "chapters", len(b.Chapters), "bytes", size)
	return nil
}

// PullFromCloud fetches and opens the stored bundle. A remote with nothing
// stored yields an empty bundle.
func (c *Client) PullFromCloud(ctx context.Context) (durable.Bundle, error) {
	var sealed bytes.Buffer
	if err := c.backend.Get(ctx, BundleObject, &sealed); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Info("no bundle stored on remote")
			return durable.Bundle{}, nil
		}
		return durable.Bundle{}, fmt.Errorf("downloading bundle: %w", err)
	}
	if c.unlock == nil {
		return durable.Bundle{}, fmt.Errorf("pulling bundle: no way to unlock the private key")
	}
	dc, err := c.unlock()
	if err != nil {
		return durable.Bundle{}, fmt.Errorf("unlocking key: %w", err)
	}

	var compressed bytes.Buffer
	if err := dc.Decrypt(&sealed, &compressed); err != nil {
		return durable.Bundle{}, fmt.Errorf("decrypting bundle: %w", err)
	}

	dec, err := zstd.NewReader(&compressed)
	if err != nil {
		return durable.Bundle{}, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return durable.Bundle{}, fmt.Errorf("decompressing bundle: %w", err)
	}

	var doc envelope
	if err := json.Unmarshal(raw, &doc); err != nil {
		return durable.Bundle{}, fmt.Errorf("decoding bundle: %w", err)
	}
	c.logger.Info("bundle pulled",
		"device", doc.DeviceID, "pushed_at", doc.PushedAt, "projects", len(doc.Bundle.Projects))
	return doc.Bundle, nil
}
