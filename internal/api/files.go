package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/parleyhq/parley/internal/blob"
	"github.com/parleyhq/parley/internal/metrics"
)

// saveFiles stores raw request bytes in the blob store under
// user:{userId}/chat:{chatId}/{filename}. The acting user must match the
// userId query parameter.
func (s *Server) saveFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatID := q.Get("chatId")
	filename := q.Get("filename")
	userID := q.Get("userId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read request body")
		return
	}

	if chatID == "" || filename == "" || userID == "" || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "chatId, filename, userId and a file body are required")
		return
	}

	if actorID(r.Context()) != userID {
		writeError(w, http.StatusUnauthorized, "user mismatch")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = blob.ContentTypeFor(filename)
	}

	key := fmt.Sprintf("user:%s/chat:%s/%s", userID, chatID, filename)
	obj, err := s.blobs.Upload(r.Context(), key, contentType, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("blob upload failed", "key", key, "error", err)
		metrics.FileUploads.WithLabelValues("endpoint", "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.FileUploads.WithLabelValues("endpoint", "ok").Inc()
	writeJSON(w, http.StatusOK, obj)
}
