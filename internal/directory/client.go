package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/loomchat/loom/internal/domain"
)

// HTTP is a key directory client over JSON HTTP.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the directory at base.
func NewHTTP(base string) *HTTP { return &HTTP{Base: base, HTTP: http.DefaultClient} }

var _ domain.DirectoryClient = (*HTTP)(nil)

// PublishBundle uploads the device's prekey bundle.
func (c *HTTP) PublishBundle(ctx context.Context, bundle domain.PrekeyBundle) error {
	return c.do(ctx, http.MethodPost, "/v1/bundles", bundle, nil, nil)
}

// ClaimBundle fetches the peer bundle, consuming one one-time prekey
// server-side. A device with no published bundle maps to
// domain.ErrPrekeyNotFound.
func (c *HTTP) ClaimBundle(ctx context.Context, user domain.UserID, device domain.DeviceID) (domain.PrekeyBundle, error) {
	var out domain.PrekeyBundle
	err := c.do(ctx, http.MethodPost, bundlePath(user, device)+"/claim", nil, &out, domain.ErrPrekeyNotFound)
	return out, err
}

// OneTimePrekeyCount reports how many unclaimed one-time prekeys the
// device still has published.
func (c *HTTP) OneTimePrekeyCount(ctx context.Context, user domain.UserID, device domain.DeviceID) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, bundlePath(user, device)+"/count", nil, &out, domain.ErrPrekeyNotFound)
	return out.Count, err
}

// PutBackup uploads the user's backup, superseding the previous one.
func (c *HTTP) PutBackup(ctx context.Context, user domain.UserID, backup domain.EncryptedBackup) error {
	return c.do(ctx, http.MethodPut, backupPath(user), backup, nil, nil)
}

// GetBackup fetches the user's current backup. Absence maps to
// domain.ErrNoBackup.
func (c *HTTP) GetBackup(ctx context.Context, user domain.UserID) (domain.EncryptedBackup, error) {
	var out domain.EncryptedBackup
	err := c.do(ctx, http.MethodGet, backupPath(user), nil, &out, domain.ErrNoBackup)
	return out, err
}

// DeleteBackup removes the user's backup.
func (c *HTTP) DeleteBackup(ctx context.Context, user domain.UserID) error {
	return c.do(ctx, http.MethodDelete, backupPath(user), nil, nil, domain.ErrNoBackup)
}

func bundlePath(user domain.UserID, device domain.DeviceID) string {
	return "/v1/bundles/" + url.PathEscape(user.String()) + "/" + url.PathEscape(device.String())
}

func backupPath(user domain.UserID) string {
	return "/v1/backups/" + url.PathEscape(user.String())
}

// do performs one JSON request. A 404 becomes notFound when the caller
// supplied one; other non-2xx statuses become generic errors carrying
// method, path, and status.
func (c *HTTP) do(ctx context.Context, method, path string, in, out any, notFound error) error {
	var body *bytes.Buffer
	if in != nil {
		body = new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return err
		}
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return notFound
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("directory %s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
