package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/chorus-tts/chorus/internal/dispatch"
	"github.com/chorus-tts/chorus/internal/synthesis"
	"github.com/chorus-tts/chorus/internal/textseg"
)

type synthesizeRequest struct {
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Instances int    `json:"instances"`
	Healthy   int    `json:"healthy"`
}

type serviceInfo struct {
	Service    string   `json:"service"`
	SampleRate int      `json:"sample_rate"`
	Format     string   `json:"format"`
	Endpoints  []string `json:"endpoints"`
}

func (r *Runtime) buildMux(metricHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", r.handleInfo)
	mux.HandleFunc("POST /synthesize", r.handleSynthesize)
	mux.HandleFunc("POST /synthesize/file", r.handleSynthesizeFile)
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /healthz", r.handleHealthz)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /history", r.handleHistory)
	if metricHandler != nil {
		mux.Handle("GET /metrics", metricHandler)
	}
	return mux
}

func (r *Runtime) handleInfo(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, http.StatusOK, serviceInfo{
		Service:    r.cfg.ServiceName,
		SampleRate: r.cfg.Audio.SampleRate,
		Format:     r.cfg.Audio.Format,
		Endpoints: []string{
			"POST /synthesize",
			"POST /synthesize/file",
			"GET /health",
			"GET /history",
			"GET /metrics",
		},
	})
}

func (r *Runtime) handleSynthesize(w http.ResponseWriter, req *http.Request) {
	var body synthesizeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	r.synthesize(w, req, synthesis.Request{
		Source:      "http",
		Text:        body.Text,
		Description: body.Description,
		Format:      body.Format,
	})
}

// handleSynthesizeFile accepts a text file upload under the "file" multipart
// field and synthesizes its entire contents.
func (r *Runtime) handleSynthesizeFile(w http.ResponseWriter, req *http.Request) {
	maxBytes := int64(r.cfg.Text.MaxFileSizeMB) << 20
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes)

	if err := req.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("invalid upload (max %d MB)", r.cfg.Text.MaxFileSizeMB),
		})
		return
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing \"file\" field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read upload"})
		return
	}
	if !utf8.Valid(data) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file is not valid UTF-8 text"})
		return
	}

	r.synthesize(w, req, synthesis.Request{
		Source:      "http-file",
		Text:        string(data),
		Description: req.FormValue("description"),
		Format:      req.FormValue("format"),
	})
}

func (r *Runtime) synthesize(w http.ResponseWriter, req *http.Request, job synthesis.Request) {
	result, err := r.synth.Synthesize(req.Context(), job)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, textseg.ErrEmptyInput):
			status = http.StatusBadRequest
		case errors.Is(err, dispatch.ErrAllSegmentsFailed):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "speech."+result.Extension))
	w.Header().Set("X-Request-ID", result.RequestID)
	w.Header().Set("X-Segments-Total", strconv.Itoa(result.SegmentsTotal))
	w.Header().Set("X-Segments-Failed", strconv.Itoa(result.SegmentsFailed))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Audio); err != nil {
		r.logger.Warn("failed to write audio response", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := r.pool.Health()
	status := http.StatusOK
	if report.Healthy == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{
		Status:    report.Status,
		Instances: report.Total,
		Healthy:   report.Healthy,
	})
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := r.store.ListRecent(req.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
