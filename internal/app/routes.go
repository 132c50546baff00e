package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"hermes/internal/automation"
	"hermes/internal/dispatch"
)

// eventsTopic is the broadcast topic every WebSocket connection joins.
const eventsTopic = "events"

func (a *Application) registerRoutes() error {
	routes := []struct {
		method  string
		pattern string
		handler dispatch.Handler
	}{
		{http.MethodGet, "/healthz", a.handleHealth},
		{http.MethodGet, "/metrics", a.handleMetrics},
		{http.MethodPost, "/commands/:label", a.handleRunCommand},
		{http.MethodGet, "/processes", a.handleProcessList},
		{http.MethodGet, "/processes/:label", a.handleProcessStatus},
		{http.MethodDelete, "/processes/:label", a.handleProcessKill},
	}
	for _, r := range routes {
		if err := a.Server.Handle(r.method, r.pattern, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) handleHealth(r *http.Request, _ dispatch.Params) (*dispatch.Response, error) {
	return dispatch.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  a.Uptime().String(),
	}), nil
}

// handleMetrics renders the Prometheus registry in text exposition
// format.
func (a *Application) handleMetrics(r *http.Request, _ dispatch.Params) (*dispatch.Response, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return nil, err
		}
	}
	resp := dispatch.NewResponse(http.StatusOK)
	resp.Header.Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp.Body = buf.Bytes()
	return resp, nil
}

// commandRequest is the body of POST /commands/:label.
type commandRequest struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	Dir            string   `json:"dir"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (a *Application) handleRunCommand(r *http.Request, params dispatch.Params) (*dispatch.Response, error) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		return dispatch.ErrorJSON(http.StatusBadRequest, "invalid request body"), nil
	}

	opts := automation.Options{Dir: req.Dir}
	if req.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	label := params["label"]
	result, err := a.Runner.Run(r.Context(), label, req.Command, req.Args, opts)
	if err != nil {
		if errors.Is(err, automation.ErrLabelInUse) {
			return dispatch.ErrorJSON(http.StatusConflict, "label already in use"), nil
		}
		if errors.Is(err, automation.ErrSpawn) {
			return dispatch.ErrorJSON(http.StatusUnprocessableEntity, "command could not be started"), nil
		}
		return nil, err
	}

	a.publishEvent("command:finished", map[string]any{
		"label":     label,
		"exit_code": result.ExitCode,
	})
	return dispatch.JSON(http.StatusOK, result), nil
}

func (a *Application) handleProcessList(r *http.Request, _ dispatch.Params) (*dispatch.Response, error) {
	return dispatch.JSON(http.StatusOK, a.Runner.Registry().List()), nil
}

func (a *Application) handleProcessStatus(r *http.Request, params dispatch.Params) (*dispatch.Response, error) {
	status, err := a.Runner.Registry().Status(params["label"])
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			return dispatch.ErrorJSON(http.StatusNotFound, "unknown process label"), nil
		}
		return nil, err
	}
	return dispatch.JSON(http.StatusOK, status), nil
}

func (a *Application) handleProcessKill(r *http.Request, params dispatch.Params) (*dispatch.Response, error) {
	label := params["label"]
	if err := a.Runner.Registry().Kill(label); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			return dispatch.ErrorJSON(http.StatusNotFound, "unknown process label"), nil
		}
		return nil, err
	}
	a.publishEvent("process:killed", map[string]any{"label": label})
	return dispatch.NoContent(), nil
}

// publishEvent fans an event out to every subscribed WebSocket
// connection.
func (a *Application) publishEvent(eventType string, data map[string]any) {
	_, err := a.Server.Broker().PublishJSON(eventsTopic, map[string]any{
		"type":      eventType,
		"data":      data,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		a.Logger.Error("event publish failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}
