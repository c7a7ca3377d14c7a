package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/detectlog"
	"github.com/divyadrishti/detection-engine/lifecycle"
	"github.com/divyadrishti/detection-engine/models"
)

const (
	maxUploadBytes      = 10 << 20
	defaultSummaryLimit = 50
)

type Console struct {
	engine *engine
	logger *zap.SugaredLogger
}

type DetectResponse struct {
	Model      string             `json:"model,omitempty"`
	ModelName  string             `json:"model_name,omitempty"`
	Taxonomy   models.Taxonomy    `json:"taxonomy,omitempty"`
	Ready      bool               `json:"ready"`
	Detections []models.Detection `json:"detections"`
	Annotated  string             `json:"annotated,omitempty"`
}

type ModelView struct {
	models.ModelProfile
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default"`
	Active      bool   `json:"active"`
}

type SwitchResponse struct {
	Status  lifecycle.Status `json:"status"`
	Message string           `json:"message"`
}

type ExportResponse struct {
	Path string `json:"path"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewConsole(e *engine) *Console {
	return &Console{engine: e, logger: e.logger.Named("console")}
}

func (c *Console) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", c.handleDetect).Methods(http.MethodPost)

	r.HandleFunc("/models", c.handleModels).Methods(http.MethodGet)
	r.HandleFunc("/models/active", c.handleActiveModel).Methods(http.MethodGet)
	r.HandleFunc("/models/{key}/switch", c.handleSwitch).Methods(http.MethodPost)

	r.HandleFunc("/detections", c.handleDetections).Methods(http.MethodGet)
	r.HandleFunc("/detections", c.handleClearDetections).Methods(http.MethodDelete)
	r.HandleFunc("/detections/stats", c.handleDetectionStats).Methods(http.MethodGet)
	r.HandleFunc("/detections/export", c.handleExportDetections).Methods(http.MethodPost)

	r.HandleFunc("/telemetry", c.handleTelemetry).Methods(http.MethodGet)
	r.HandleFunc("/telemetry/grade", c.handleGrade).Methods(http.MethodGet)
	r.HandleFunc("/telemetry/summary", c.handleTelemetrySummary).Methods(http.MethodGet)
	r.HandleFunc("/telemetry/chart", c.handleTelemetryChart).Methods(http.MethodGet)
	r.HandleFunc("/telemetry/export", c.handleExportTelemetry).Methods(http.MethodPost)

	r.HandleFunc("/metrics", c.handleMetrics).Methods(http.MethodGet)
	return r
}

func (c *Console) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timings := &models.ProcessingTimings{RequestID: strconv.FormatInt(start.UnixNano(), 10)}

	var imgBytes []byte
	var err error
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, err := decodeImage(imgBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}
	timings.Preprocess = time.Since(start)

	inferStart := time.Now()
	out, dets := c.engine.driver.ProcessFrame(img)
	timings.Inference = time.Since(inferStart)

	resp := DetectResponse{Detections: dets}
	if dets == nil {
		resp.Detections = []models.Detection{}
	}
	if h, ok := c.engine.manager.Current(); ok {
		profile := h.Profile()
		resp.Ready = true
		resp.Model = profile.Key
		resp.ModelName = profile.Name
		resp.Taxonomy = profile.Type
	}
	if r.URL.Query().Get("annotated") == "true" {
		postStart := time.Now()
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Annotated = base64.StdEncoding.EncodeToString(buf.Bytes())
		timings.Postprocess = time.Since(postStart)
	}

	timings.Total = time.Since(start)
	c.logger.Debugw("Processing times", "request_id", timings.RequestID,
		"decode", timings.Preprocess, "inference", timings.Inference,
		"encode", timings.Postprocess, "total", timings.Total)
	sendJSON(w, http.StatusOK, resp)
}

func (c *Console) handleModels(w http.ResponseWriter, _ *http.Request) {
	status := c.engine.manager.Status()
	defaultKey := c.engine.manager.Registry().DefaultKey()
	profiles := c.engine.manager.Profiles()

	views := make([]ModelView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, ModelView{
			ModelProfile: p,
			DisplayName:  p.DisplayName(),
			Default:      p.Key == defaultKey,
			Active:       status.State == lifecycle.Ready.String() && p.Key == status.ActiveKey,
		})
	}
	sendJSON(w, http.StatusOK, views)
}

func (c *Console) handleActiveModel(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, c.engine.manager.Status())
}

func (c *Console) handleSwitch(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	err := c.engine.driver.Switch(r.Context(), key)
	resp := SwitchResponse{Status: c.engine.manager.Status(), Message: switchMessage(err)}
	if err == nil {
		sendJSON(w, http.StatusOK, resp)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrUnknownModel):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrCorruptArtifact), errors.Is(err, lifecycle.ErrUnrecoverableCorruption):
		status = http.StatusUnprocessableEntity
	}
	sendJSON(w, status, resp)
}

func (c *Console) handleDetections(w http.ResponseWriter, r *http.Request) {
	limit := defaultSummaryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendErrorResponse(w, "invalid_request", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, c.engine.detlog.Notifications(limit))
		return
	}
	sendJSON(w, http.StatusOK, c.engine.detlog.Summary(limit))
}

func (c *Console) handleClearDetections(w http.ResponseWriter, _ *http.Request) {
	c.engine.detlog.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) handleDetectionStats(w http.ResponseWriter, _ *http.Request) {
	stats := c.engine.detlog.Stats()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"session_start":     stats.SessionStart,
		"session_duration":  stats.Duration.String(),
		"total_detections":  stats.Total,
		"trail_detections":  stats.Trail,
		"person_detections": stats.Person,
		"other_detections":  stats.Other,
		"unique_objects":    stats.UniqueObjects(),
		"classes":           stats.Classes,
		"evicted":           stats.Evicted,
		"session_id":        c.engine.driver.SessionID(),
	})
}

func (c *Console) handleExportDetections(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	path, err := c.engine.detlog.Export("", format)
	if err != nil {
		sendExportError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, ExportResponse{Path: path})
}

func (c *Console) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	s := c.engine.monitor.Stats()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"fps":                s.FPS,
		"avg_fps":            s.AverageFPS,
		"total_frames":       s.TotalFrames,
		"uptime":             s.Uptime.Seconds(),
		"cpu_usage":          s.CPU,
		"memory_usage":       s.Memory,
		"gpu_usage":          s.GPU,
		"avg_inference_time": s.AvgInferenceMs,
		"running":            c.engine.monitor.Running(),
	})
}

func (c *Console) handleGrade(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, c.engine.monitor.Grade())
}

func (c *Console) handleTelemetrySummary(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, c.engine.monitor.Summary()+"\n")
}

func (c *Console) handleTelemetryChart(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := c.engine.monitor.Chart(&buf); err != nil {
		sendErrorResponse(w, "render_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (c *Console) handleExportTelemetry(w http.ResponseWriter, _ *http.Request) {
	path, err := c.engine.monitor.Export("")
	if err != nil {
		sendExportError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, ExportResponse{Path: path})
}

func (c *Console) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"driver":    c.engine.driver.Metrics(),
		"model":     c.engine.manager.Status(),
		"log_size":  c.engine.detlog.Len(),
		"log_state": c.engine.detlog.Enabled(),
	})
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func sendExportError(w http.ResponseWriter, err error) {
	var exportErr *models.ExportError
	switch {
	case errors.Is(err, models.ErrNothingToExport):
		sendErrorResponse(w, "nothing_to_export", err.Error(), http.StatusConflict)
	case errors.Is(err, detectlog.ErrUnsupportedFormat):
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.As(err, &exportErr):
		sendErrorResponse(w, "export_failed", fmt.Sprintf("could not write %s", exportErr.Path), http.StatusInternalServerError)
	default:
		sendErrorResponse(w, "export_failed", err.Error(), http.StatusInternalServerError)
	}
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
