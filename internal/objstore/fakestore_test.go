package objstore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory stand-in for the remote versioned store. It
// implements the authorize handshake, tokens that can be expired on demand,
// and the versioned file endpoints the client talks to.
type fakeStore struct {
	keyID  string
	appKey string

	mu        sync.Mutex
	authCalls int
	token     string
	files     map[string][]fakeVersion // key -> versions, oldest first
	nextID    int
	pageCap   int // when >0, caps listing page size to force pagination

	srv *httptest.Server
}

type fakeVersion struct {
	id       string
	data     []byte
	uploaded time.Time
}

func newFakeStore(keyID, appKey string) *fakeStore {
	f := &fakeStore{
		keyID:  keyID,
		appKey: appKey,
		files:  map[string][]fakeVersion{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/b2api/v2/b2_authorize_account", f.handleAuthorize)
	mux.HandleFunc("/b2api/v2/b2_get_upload_url", f.handleGetUploadURL)
	mux.HandleFunc("/b2api/v2/b2_list_file_names", f.handleListNames)
	mux.HandleFunc("/b2api/v2/b2_list_file_versions", f.handleListVersions)
	mux.HandleFunc("/b2api/v2/b2_delete_file_version", f.handleDeleteVersion)
	mux.HandleFunc("/upload/", f.handleUpload)
	mux.HandleFunc("/file/", f.handleDownload)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeStore) Close()      { f.srv.Close() }
func (f *fakeStore) URL() string { return f.srv.URL }

// AuthCalls reports how many authorize handshakes the store has served.
func (f *fakeStore) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

// ExpireToken invalidates the current token so every authorized call fails
// with 401 until the next handshake.
func (f *fakeStore) ExpireToken() {
	f.mu.Lock()
	f.token = ""
	f.mu.Unlock()
}

// Put seeds a version directly, bypassing the HTTP surface.
func (f *fakeStore) Put(key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putLocked(key, data)
}

func (f *fakeStore) putLocked(key string, data []byte) string {
	f.nextID++
	id := fmt.Sprintf("4_v%06d", f.nextID)
	f.files[key] = append(f.files[key], fakeVersion{
		id:       id,
		data:     append([]byte(nil), data...),
		uploaded: time.Now(),
	})
	return id
}

// DeleteAll removes every version of key, simulating a concurrent deleter.
func (f *fakeStore) DeleteAll(key string) {
	f.mu.Lock()
	delete(f.files, key)
	f.mu.Unlock()
}

func (f *fakeStore) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if !ok || id != f.keyID || secret != f.appKey {
		writeStoreError(w, http.StatusUnauthorized, "bad_auth", "invalid credentials")
		return
	}
	f.token = fmt.Sprintf("tok-%d", f.authCalls)
	json.NewEncoder(w).Encode(map[string]string{
		"accountId":          "acct-1",
		"authorizationToken": f.token,
		"apiUrl":             f.srv.URL,
		"downloadUrl":        f.srv.URL,
	})
}

// authorized checks the Authorization header under f.mu.
func (f *fakeStore) authorized(r *http.Request) bool {
	return f.token != "" && r.Header.Get("Authorization") == f.token
}

func (f *fakeStore) handleGetUploadURL(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"uploadUrl":          f.srv.URL + "/upload/bucket-1",
		"authorizationToken": f.token,
	})
}

func (f *fakeStore) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	key, err := url.PathUnescape(r.Header.Get("X-Bz-File-Name"))
	if err != nil || key == "" {
		writeStoreError(w, http.StatusBadRequest, "bad_request", "missing file name")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeStoreError(w, http.StatusBadRequest, "bad_request", "short body")
		return
	}
	id := f.putLocked(key, data)
	v := f.files[key][len(f.files[key])-1]
	json.NewEncoder(w).Encode(map[string]any{
		"fileId":          id,
		"fileName":        key,
		"contentLength":   len(v.data),
		"uploadTimestamp": v.uploaded.UnixMilli(),
	})
}

type listRequest struct {
	BucketID      string `json:"bucketId"`
	Prefix        string `json:"prefix"`
	StartFileName string `json:"startFileName"`
	MaxFileCount  int    `json:"maxFileCount"`
}

func (f *fakeStore) handleListNames(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	var req listRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.MaxFileCount <= 0 {
		req.MaxFileCount = 100
	}
	if f.pageCap > 0 && req.MaxFileCount > f.pageCap {
		req.MaxFileCount = f.pageCap
	}

	names := make([]string, 0, len(f.files))
	for key := range f.files {
		if strings.HasPrefix(key, req.Prefix) && key >= req.StartFileName {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	out := []map[string]any{}
	var next *string
	for i, key := range names {
		if i == req.MaxFileCount {
			next = &names[i]
			break
		}
		vs := f.files[key]
		v := vs[len(vs)-1]
		out = append(out, map[string]any{
			"fileId":          v.id,
			"fileName":        key,
			"contentLength":   len(v.data),
			"uploadTimestamp": v.uploaded.UnixMilli(),
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"files": out, "nextFileName": next})
}

func (f *fakeStore) handleListVersions(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	var req listRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.MaxFileCount <= 0 {
		req.MaxFileCount = 100
	}

	// Newest versions first within a name, names in sorted order.
	names := make([]string, 0, len(f.files))
	for key := range f.files {
		if strings.HasPrefix(key, req.Prefix) {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	out := []map[string]any{}
	for _, key := range names {
		vs := f.files[key]
		for i := len(vs) - 1; i >= 0 && len(out) < req.MaxFileCount; i-- {
			out = append(out, map[string]any{
				"fileId":          vs[i].id,
				"fileName":        key,
				"contentLength":   len(vs[i].data),
				"uploadTimestamp": vs[i].uploaded.UnixMilli(),
			})
		}
		if len(out) == req.MaxFileCount {
			break
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"files": out})
}

func (f *fakeStore) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	var req struct {
		FileName string `json:"fileName"`
		FileID   string `json:"fileId"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	vs := f.files[req.FileName]
	for i, v := range vs {
		if v.id == req.FileID {
			vs = append(vs[:i], vs[i+1:]...)
			if len(vs) == 0 {
				delete(f.files, req.FileName)
			} else {
				f.files[req.FileName] = vs
			}
			json.NewEncoder(w).Encode(map[string]string{
				"fileName": req.FileName,
				"fileId":   req.FileID,
			})
			return
		}
	}
	writeStoreError(w, http.StatusBadRequest, "file_not_present", "no such version")
}

func (f *fakeStore) handleDownload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized(r) {
		writeStoreError(w, http.StatusUnauthorized, "expired_auth_token", "token expired")
		return
	}
	// Path: /file/<bucketName>/<escaped key>
	rest := strings.TrimPrefix(r.URL.Path, "/file/")
	_, escaped, ok := strings.Cut(rest, "/")
	if !ok {
		writeStoreError(w, http.StatusBadRequest, "bad_request", "malformed download path")
		return
	}
	key, err := url.PathUnescape(escaped)
	if err != nil {
		writeStoreError(w, http.StatusBadRequest, "bad_request", "malformed file name")
		return
	}
	vs := f.files[key]
	if len(vs) == 0 {
		writeStoreError(w, http.StatusNotFound, "not_found", "no such file")
		return
	}
	w.Write(vs[len(vs)-1].data)
}

func writeStoreError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"code":    code,
		"message": message,
	})
}
