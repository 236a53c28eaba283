package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/sirupsen/logrus"
)

// FaceManager is the identity management surface.
type FaceManager interface {
	List(ctx context.Context) ([]string, error)
	Register(ctx context.Context, name string, images []gallery.Image) (gallery.RegisterResult, error)
	Delete(ctx context.Context, name string) error
}

// FacesHandler handles identity endpoints.
type FacesHandler struct {
	manager FaceManager
	log     logrus.FieldLogger
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(manager FaceManager, log logrus.FieldLogger) *FacesHandler {
	return &FacesHandler{manager: manager, log: log}
}

// FacesResponse lists identity names.
type FacesResponse struct {
	Faces []string `json:"faces"`
}

// RegisterResponse reports a registration.
type RegisterResponse struct {
	Message string `json:"message"`
	Saved   int    `json:"saved"`
}

// List returns all identity names.
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.manager.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list identities")
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, FacesResponse{Faces: names})
}

// nameParam returns the unescaped {name} URL parameter. chi routes on
// RawPath when the request has one, so only then is the parameter still escaped.
func nameParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	name, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("invalid identity name encoding: %w", err)
	}
	return name, nil
}

// readUploads reads every uploaded file part into memory.
func readUploads(files []*multipart.FileHeader) ([]gallery.Image, error) {
	images := make([]gallery.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
		}
		images = append(images, gallery.Image{Filename: fh.Filename, Data: data})
	}
	return images, nil
}

// Register stores the uploaded images under the identity in the URL.
func (h *FacesHandler) Register(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	files = append(files, r.MultipartForm.File["file"]...)
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	images, err := readUploads(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.manager.Register(r.Context(), name, images)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithField("identity", sanitizeForLog(name)).Error("failed to register identity")
		}
		respondError(w, status, messageForError(err))
		return
	}

	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	respondJSON(w, http.StatusCreated, RegisterResponse{
		Message: fmt.Sprintf("%s identity '%s'", verb, res.Name),
		Saved:   res.Saved,
	})
}

// Delete removes the identity in the URL.
func (h *FacesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.Delete(r.Context(), name); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithField("identity", sanitizeForLog(name)).Error("failed to delete identity")
		}
		respondError(w, status, messageForError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
