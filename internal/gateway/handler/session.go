package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/gateway/repository/media"
)

const maxJSONBody = 1 << 20

// Sessions is the session workflow the HTTP layer drives; *diagnosis.Machine
// implements it.
type Sessions interface {
	Registry() *diagnosis.StageRegistry
	Start(ctx context.Context, owner string, opts diagnosis.StartOptions) (*diagnosis.State, error)
	Advance(ctx context.Context, sessionID string, in diagnosis.StageInput) (*diagnosis.State, error)
	SaveDraft(ctx context.Context, sessionID string, in diagnosis.StageInput) (*diagnosis.State, error)
	Resume(ctx context.Context, sessionID string) (*diagnosis.State, error)
	Abandon(ctx context.Context, sessionID string) (*diagnosis.State, error)
	List(ctx context.Context, owner string) ([]*diagnosis.State, error)
}

type SessionHandler struct {
	sessions Sessions
	media    media.Store
	hub      *Hub
}

func NewSessionHandler(sessions Sessions, mediaStore media.Store, hub *Hub) *SessionHandler {
	if hub == nil {
		hub = NewHub()
	}
	return &SessionHandler{sessions: sessions, media: mediaStore, hub: hub}
}

type startRequest struct {
	OwnerRef string `json:"owner_ref"`
	Fresh    bool   `json:"fresh"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var in startRequest
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	s, err := h.sessions.Start(r.Context(), in.OwnerRef, diagnosis.StartOptions{Fresh: in.Fresh})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		badRequest(w, r, "owner is required")
		return
	}
	list, err := h.sessions.List(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Resume(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var in diagnosis.StageInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	s, err := h.sessions.Advance(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var in diagnosis.StageInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	s, err := h.sessions.SaveDraft(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Abandon(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UploadMedia stores one image or recording for the session. It accepts a
// multipart form with a "file" field or a raw body with its Content-Type.
func (h *SessionHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := h.sessions.Resume(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Status != diagnosis.StatusActive {
		writeError(w, r, diagnosis.ErrSessionClosed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(1<<16))
	content, contentType, err := readUpload(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	ref, err := h.media.Put(r.Context(), sessionID, contentType, content)
	switch {
	case errors.Is(err, media.ErrInvalidUpload):
		badRequest(w, r, err.Error())
		return
	case err != nil:
		writeError(w, r, &diagnosis.PersistenceError{Op: "store media", Err: err})
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *SessionHandler) Stages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stages": h.sessions.Registry().Stages()})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func readUpload(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(ct), "multipart/form-data") {
		if err := r.ParseMultipartForm(media.MaxUploadBytes); err != nil {
			return nil, "", err
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, "", errors.New("multipart field \"file\" is required")
		}
		defer file.Close()
		b, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return b, hdr.Header.Get("Content-Type"), nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return b, ct, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
