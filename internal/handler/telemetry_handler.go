package handler

import (
	"net/http"

	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

// TelemetryHandler はクライアントから送られたエラーテレメトリを受け付ける。
type TelemetryHandler struct {
	sink telemetry.Sink
}

// NewTelemetryHandler はTelemetryHandlerを生成する。
func NewTelemetryHandler(sink telemetry.Sink) *TelemetryHandler {
	return &TelemetryHandler{sink: sink}
}

// Ingest はイベントを検証してシンクへ送る。送出は投げっぱなしのため202を返す。
// POST /api/telemetry/errors
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var event model.ErrorTelemetryEvent
	if !decodeJSON(w, r, &event) {
		return
	}
	if !telemetry.Validate(event) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTelemetryError())
		return
	}

	h.sink.Send(r.Context(), event)
	w.WriteHeader(http.StatusAccepted)
}
