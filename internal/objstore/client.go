package objstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// listPageSize is the maximum number of entries requested per listing page.
const listPageSize = 1000

// FileVersion is one stored revision of an object. The store assigns the
// version ID; newer uploads under the same key become new versions rather
// than overwriting.
type FileVersion struct {
	Key        string
	VersionID  string
	Size       int64
	UploadedAt time.Time
}

// Client is a typed wrapper over the store's native HTTP API, scoped to a
// single bucket. Every operation is retried exactly once with a fresh
// authorization when the store rejects the current token; any other failure
// propagates unchanged.
type Client struct {
	session    *Session
	bucketID   string
	bucketName string
	httpc      *http.Client
}

// NewClient creates a store client for the given bucket using session for
// authorization.
func NewClient(session *Session, bucketID, bucketName string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{session: session, bucketID: bucketID, bucketName: bucketName, httpc: httpc}
}

// Upload stores data under key as a new version and returns the version the
// store created. Existing versions of the same key are untouched.
func (c *Client) Upload(ctx context.Context, key string, data []byte) (FileVersion, error) {
	var fv FileVersion
	err := c.withReauth(ctx, func(a Auth) error {
		var err error
		fv, err = c.upload(ctx, a, key, data)
		return err
	})
	return fv, err
}

// List enumerates every current object whose key starts with prefix, in the
// store's native order, paging internally until exhausted.
func (c *Client) List(ctx context.Context, prefix string) ([]FileVersion, error) {
	var out []FileVersion
	err := c.withReauth(ctx, func(a Auth) error {
		out = out[:0]
		start := ""
		for {
			page, next, err := c.listPage(ctx, a, prefix, start)
			if err != nil {
				return err
			}
			out = append(out, page...)
			if next == "" {
				return nil
			}
			start = next
		}
	})
	return out, err
}

// Fetch returns the newest version's bytes for key as a stream. The caller
// must close the returned reader.
func (c *Client) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := c.withReauth(ctx, func(a Auth) error {
		var err error
		rc, err = c.download(ctx, a, key)
		return err
	})
	return rc, err
}

// LatestVersionID resolves the newest version identifier recorded for key.
// Returns ErrNotFound when no version exists. The store lists versions of an
// exact name newest first; the name is still compared defensively because the
// listing matches by prefix.
func (c *Client) LatestVersionID(ctx context.Context, key string) (string, error) {
	var id string
	err := c.withReauth(ctx, func(a Auth) error {
		var err error
		id, err = c.latestVersionID(ctx, a, key)
		return err
	})
	return id, err
}

// DeleteVersion removes exactly the given version of key. Returns ErrNotFound
// when the store no longer knows the version.
func (c *Client) DeleteVersion(ctx context.Context, key, versionID string) error {
	return c.withReauth(ctx, func(a Auth) error {
		return c.deleteVersion(ctx, a, key, versionID)
	})
}

// withReauth runs fn with a valid authorization. A single token rejection
// invalidates the session and retries fn once with a fresh token; a second
// rejection surfaces as ErrAuth.
func (c *Client) withReauth(ctx context.Context, fn func(a Auth) error) error {
	a, err := c.session.Auth(ctx)
	if err != nil {
		return err
	}
	err = fn(a)
	if !errors.Is(err, errTokenExpired) {
		return err
	}

	c.session.Invalidate()
	a, err = c.session.Auth(ctx)
	if err != nil {
		return err
	}
	if err := fn(a); errors.Is(err, errTokenExpired) {
		return fmt.Errorf("%w: token rejected again after refresh", ErrAuth)
	} else if err != nil {
		return err
	}
	return nil
}

func (c *Client) upload(ctx context.Context, a Auth, key string, data []byte) (FileVersion, error) {
	// Uploads go to a per-bucket upload URL with its own short-lived token.
	target, token, err := c.uploadURL(ctx, a)
	if err != nil {
		return FileVersion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return FileVersion{}, fmt.Errorf("build upload request: %w", err)
	}
	sum := sha1.Sum(data)
	req.Header.Set("Authorization", token)
	req.Header.Set("X-Bz-File-Name", url.PathEscape(key))
	req.Header.Set("X-Bz-Content-Sha1", hex.EncodeToString(sum[:]))
	req.Header.Set("Content-Type", "b2/x-auto")
	req.ContentLength = int64(len(data))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return FileVersion{}, fmt.Errorf("%w: upload: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FileVersion{}, responseError(resp)
	}

	var body fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FileVersion{}, fmt.Errorf("decode upload response: %w", err)
	}
	return body.version(), nil
}

// uploadURL asks the store for a bucket upload endpoint and its token.
func (c *Client) uploadURL(ctx context.Context, a Auth) (string, string, error) {
	var body struct {
		UploadURL          string `json:"uploadUrl"`
		AuthorizationToken string `json:"authorizationToken"`
	}
	err := c.post(ctx, a, "b2_get_upload_url",
		map[string]any{"bucketId": c.bucketID}, &body)
	if err != nil {
		return "", "", err
	}
	return body.UploadURL, body.AuthorizationToken, nil
}

func (c *Client) listPage(ctx context.Context, a Auth, prefix, start string) ([]FileVersion, string, error) {
	var body struct {
		Files        []fileInfo `json:"files"`
		NextFileName *string    `json:"nextFileName"`
	}
	payload := map[string]any{
		"bucketId":     c.bucketID,
		"prefix":       prefix,
		"maxFileCount": listPageSize,
	}
	if start != "" {
		payload["startFileName"] = start
	}
	if err := c.post(ctx, a, "b2_list_file_names", payload, &body); err != nil {
		return nil, "", err
	}

	page := make([]FileVersion, 0, len(body.Files))
	for _, f := range body.Files {
		page = append(page, f.version())
	}
	next := ""
	if body.NextFileName != nil {
		next = *body.NextFileName
	}
	return page, next, nil
}

func (c *Client) download(ctx context.Context, a Auth, key string) (io.ReadCloser, error) {
	target := fmt.Sprintf("%s/file/%s/%s", a.DownloadURL, c.bucketName, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", a.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp.Body, nil
}

func (c *Client) latestVersionID(ctx context.Context, a Auth, key string) (string, error) {
	var body struct {
		Files []fileInfo `json:"files"`
	}
	err := c.post(ctx, a, "b2_list_file_versions", map[string]any{
		"bucketId":      c.bucketID,
		"startFileName": key,
		"prefix":        key,
		"maxFileCount":  1,
	}, &body)
	if err != nil {
		return "", err
	}
	if len(body.Files) == 0 || body.Files[0].FileName != key {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return body.Files[0].FileID, nil
}

func (c *Client) deleteVersion(ctx context.Context, a Auth, key, versionID string) error {
	return c.post(ctx, a, "b2_delete_file_version", map[string]any{
		"fileName": key,
		"fileId":   versionID,
	}, &struct{}{})
}

// post sends an authorized JSON API call and decodes the 200 response into out.
func (c *Client) post(ctx context.Context, a Auth, op string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.APIURL+"/b2api/v2/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", a.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fileInfo is the store's wire representation of one file version.
type fileInfo struct {
	FileID          string `json:"fileId"`
	FileName        string `json:"fileName"`
	ContentLength   int64  `json:"contentLength"`
	UploadTimestamp int64  `json:"uploadTimestamp"` // milliseconds since epoch
}

func (f fileInfo) version() FileVersion {
	return FileVersion{
		Key:        f.FileName,
		VersionID:  f.FileID,
		Size:       f.ContentLength,
		UploadedAt: time.UnixMilli(f.UploadTimestamp),
	}
}

// responseError maps a non-200 store response onto the error taxonomy.
// 401 marks the token as expired so the caller can refresh and retry;
// 404 and the store's "file not present" code become ErrNotFound; anything
// else keeps its status and code for diagnostics.
func responseError(resp *http.Response) error {
	var body struct {
		Status  int    `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	if body.Code == "" {
		body.Code = strconv.Itoa(resp.StatusCode)
		body.Message = string(raw)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errTokenExpired
	case resp.StatusCode == http.StatusNotFound,
		body.Code == "file_not_present", body.Code == "not_found":
		return fmt.Errorf("%w: %s", ErrNotFound, body.Message)
	default:
		return &StoreError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
	}
}
