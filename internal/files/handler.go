package files

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filegate/service/internal/middleware"
	"github.com/filegate/service/internal/objstore"
	"github.com/filegate/service/internal/response"
)

// maxUploadBytes caps a single upload at 100 MiB.
const maxUploadBytes = 100 << 20

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new files Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type uploadData struct {
	Name       string    `json:"name"       example:"report.pdf"`
	VersionID  string    `json:"versionId"  example:"4_z27c88f1d182b150646ff0b16_f1004ba650fe24e6b_d20260901_m153331_c001_v0001022_t0017"`
	Size       int64     `json:"size"       example:"48231"`
	UploadedAt time.Time `json:"uploadedAt" example:"2026-09-01T15:33:31Z"`
}

type listData struct {
	Files []string `json:"files"`
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Store a file in the caller's namespace. Re-uploading the same name creates a new version; the newest version is what listing and download return.
//	@Tags			files
//	@Accept			mpfd
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file	formData	file	true	"File content"
//	@Success		201		{object}	response.Envelope{data=uploadData}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		502		{object}	response.Envelope
//	@Router			/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.Username(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "could not read uploaded file")
		return
	}

	fv, err := h.svc.Upload(r.Context(), user, header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, uploadData{
		Name:       header.Filename,
		VersionID:  fv.VersionID,
		Size:       fv.Size,
		UploadedAt: fv.UploadedAt,
	})
}

// List godoc
//
//	@Summary		List files
//	@Description	Returns the names of every file in the caller's namespace.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=listData}
//	@Failure		401	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/files [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.Username(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	names, err := h.svc.List(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, listData{Files: names})
}

// Download godoc
//
//	@Summary		Download a file
//	@Description	Streams the newest version of the named file as an attachment.
//	@Tags			files
//	@Produce		octet-stream
//	@Security		BearerAuth
//	@Param			filename	path	string	true	"File name"
//	@Success		200	{file}		file
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/files/{filename} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.Username(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	filename := chi.URLParam(r, "filename")

	rc, err := h.svc.Download(r.Context(), user, filename)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	// Streamed straight from the store response; no temp files, so
	// concurrent downloads of identically named files cannot collide.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already gone; all we can do is log the broken copy.
		log.Printf("files: streaming %q to client failed: %v", filename, err)
	}
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Removes the newest version of the named file. Deleting a file that is already gone mid-flight still reports success.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			filename	path	string	true	"File name"
//	@Success		200	{object}	response.Envelope
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/files/{filename} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.Username(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	filename := chi.URLParam(r, "filename")

	if err := h.svc.Delete(r.Context(), user, filename); err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, map[string]string{"message": fmt.Sprintf("file %q deleted", filename)})
}

// writeError maps the store error taxonomy onto HTTP statuses: validation
// errors are the client's fault, missing files are 404, and anything wrong
// between the gateway and the store is a bad-gateway condition.
func writeError(w http.ResponseWriter, err error) {
	var storeErr *objstore.StoreError
	switch {
	case errors.Is(err, objstore.ErrInvalidName), errors.Is(err, objstore.ErrInvalidUser):
		response.BadRequest(w, err.Error())
	case errors.Is(err, objstore.ErrNotFound):
		response.NotFound(w, "file not found")
	case errors.Is(err, objstore.ErrAuth), errors.Is(err, objstore.ErrNetwork):
		log.Printf("files: store failure: %v", err)
		response.Error(w, http.StatusBadGateway, "storage backend unavailable")
	case errors.As(err, &storeErr):
		log.Printf("files: store error: %v", err)
		response.Error(w, http.StatusBadGateway, "storage backend error")
	default:
		log.Printf("files: internal error: %v", err)
		response.InternalError(w)
	}
}
