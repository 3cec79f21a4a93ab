package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"noteflow/internal/actionable"
	"noteflow/internal/export"
	"noteflow/internal/jobs"
	"noteflow/internal/media"
	"noteflow/internal/types"
)

type errorBody struct {
	Error       string                 `json:"error"`
	Kind        types.Kind             `json:"kind,omitempty"`
	Remediation *actionable.ActionCard `json:"remediation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// createJob accepts a multipart upload with the video in the "video" field.
// The caller's API keys travel in headers and are never stored.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "create_job")

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "video is larger than the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a video field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing video field")
		return
	}
	defer file.Close()

	video := types.VideoInput{
		Name:      filepath.Base(header.Filename),
		MediaType: media.TypeOf(header.Header.Get("Content-Type"), header.Filename),
		SourceURL: strings.TrimSpace(r.FormValue("source_url")),
	}
	if !video.IsVideo() {
		e := types.Errorf(types.KindInvalidInput, "media type %q is not video/*", video.MediaType)
		card := actionable.ForError(e)
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: e.UserMessage(), Kind: e.Kind, Remediation: &card})
		return
	}

	tmp, err := os.CreateTemp(s.opts.WorkDir, "noteflow-upload-*"+filepath.Ext(video.Name))
	if err != nil {
		reqLog.WithError(err).Error("staging upload")
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		cleanup()
		reqLog.WithError(err).Error("staging upload")
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	video.Path = tmp.Name()

	job, err := s.jobs.Submit(video, credentialFrom(r), cleanup)
	if err != nil {
		cleanup()
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	reqLog.WithField("job_id", job.ID).WithField("media_type", video.MediaType).Info("job accepted")

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"links": map[string]string{
			"self":   "/v1/jobs/" + job.ID,
			"stream": "/v1/jobs/" + job.ID + "/ws",
		},
	})
}

// credentialFrom reads the per-run keys. Authorization: Bearer is accepted
// as an alias for X-OpenAI-Key.
func credentialFrom(r *http.Request) types.Credential {
	key := strings.TrimSpace(r.Header.Get("X-OpenAI-Key"))
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return types.NewCredential(key).WithGoogleKey(strings.TrimSpace(r.Header.Get("X-Google-Key")))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	job, ok := s.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
	}
	return job, ok
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if job, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, job)
	}
}

const wsWriteWait = 10 * time.Second

// streamJob sends the current state, then every update until the job ends.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	reqLog := s.log.WithRequest(r).WithField("job_id", job.ID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLog.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	updates, unsubscribe, ok := s.jobs.Subscribe(job.ID)
	if !ok {
		return
	}
	defer unsubscribe()
	if latest, ok := s.jobs.Get(job.ID); ok {
		job = latest
	}

	// drain client frames so close messages are noticed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(jobs.Update{Type: "snapshot", JobID: job.ID, Job: &job}); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case u, open := <-updates:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				reqLog.WithError(err).Debug("websocket write")
				return
			}
		}
	}
}

func (s *Server) bundle(w http.ResponseWriter, r *http.Request) (jobs.Job, export.Bundle, bool) {
	job, ok := s.lookup(w, r)
	if !ok {
		return job, export.Bundle{}, false
	}
	if job.Status != jobs.StatusSucceeded || job.Document == nil {
		writeError(w, http.StatusConflict, "notes are not ready")
		return job, export.Bundle{}, false
	}
	return job, export.Bundle{Document: *job.Document, References: job.References, Clips: job.Clips}, true
}

func (s *Server) exportMarkdown(w http.ResponseWriter, r *http.Request) {
	job, b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.Markdown(&buf, b); err != nil {
		s.log.WithRequest(r).WithError(err).Error("markdown export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.md"`)
	w.Write(buf.Bytes())
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	job, b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.XLSX(&buf, b); err != nil {
		s.log.WithRequest(r).WithError(err).Error("xlsx export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.xlsx"`)
	w.Write(buf.Bytes())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	usage := s.jobs.Usage()
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":          usage,
		"recommendation": actionable.ForUsage(usage),
	})
}
