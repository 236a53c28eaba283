package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/kozaktomas/deepsecurity/internal/recognition"
	"github.com/sirupsen/logrus"
)

// FaceRecognizer recognizes the faces in an encoded image.
type FaceRecognizer interface {
	RecognizeImage(ctx context.Context, data []byte) ([]recognition.Result, error)
}

// RecognizeHandler handles the recognition endpoint.
type RecognizeHandler struct {
	recognizer FaceRecognizer
	log        logrus.FieldLogger
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(recognizer FaceRecognizer, log logrus.FieldLogger) *RecognizeHandler {
	return &RecognizeHandler{recognizer: recognizer, log: log}
}

// Recognize identifies every face in the uploaded frame.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	results, err := h.recognizer.RecognizeImage(r.Context(), data)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).Error("recognition failed")
		}
		respondError(w, status, messageForError(err))
		return
	}

	respondJSON(w, http.StatusOK, recognition.Present(results))
}
