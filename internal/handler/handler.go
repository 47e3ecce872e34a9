package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/valyala/fastjson"

	"github.com/angeloszaimis/adaptive-router/internal/routing"
)

const (
	requestIDLength = 24
	maxBodyBytes    = 4 << 10
)

// Router routes one request through its attempts.
type Router interface {
	HandleRequest(ctx context.Context, requestID string) routing.Result
}

type RouterHandler struct {
	logger  *slog.Logger
	router  Router
	parsers fastjson.ParserPool
}

type response struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewRouterHandler(logger *slog.Logger, router Router) *RouterHandler {
	return &RouterHandler{
		logger: logger,
		router: router,
	}
}

func (h *RouterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Status: "error", Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: "unreadable body"})
		return
	}

	id, err := h.parseRequestID(body)
	if err != nil {
		h.logger.Debug("Rejected request", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: err.Error()})
		return
	}

	result := h.router.HandleRequest(r.Context(), id)

	if !result.Success {
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Attempts: result.Attempts})
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "ok", Attempts: result.Attempts})
}

// parseRequestID extracts and validates the "id" field of a JSON body.
func (h *RouterHandler) parseRequestID(body []byte) (string, error) {
	p := h.parsers.Get()
	defer h.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return "", validation.NewError("validation_invalid_json", "body must be a JSON object")
	}

	id := string(v.GetStringBytes("id"))
	if err := ValidateRequestID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateRequestID checks that id is exactly 24 alphanumeric characters.
func ValidateRequestID(id string) error {
	err := validation.Validate(id,
		validation.Required.Error("id is required"),
		validation.RuneLength(requestIDLength, requestIDLength).Error("id must be 24 characters"),
		is.Alphanumeric.Error("id must be alphanumeric"),
	)
	return err
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
