package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/api/middleware"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/render"
)

// RunTrigger ставит прогон в очередь
type RunTrigger interface {
	Trigger(ctx context.Context, cmd messaging.RunCommand) error
}

// RunHistory источник итогов прогонов
type RunHistory interface {
	LastRun(ctx context.Context) (models.ReportSnapshot, error)
}

// RunHandler обработчик запросов запуска прогонов
type RunHandler struct {
	trigger RunTrigger
	history RunHistory
	logger  interfaces.LoggerPort
}

// NewRunHandler создает обработчик. history может быть nil.
func NewRunHandler(trigger RunTrigger, history RunHistory, logger interfaces.LoggerPort) *RunHandler {
	return &RunHandler{trigger: trigger, history: history, logger: logger}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type acceptedRun struct {
	Mode        models.RunMode `json:"mode"`
	RequestedBy string         `json:"requested_by,omitempty"`
}

func fail(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: errCode, Code: code, Message: message})
}

// StartRun принимает запись выбора и ставит прогон в очередь
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var choice models.Choice
	if err := render.DecodeJSON(r.Body, &choice); err != nil {
		fail(w, r, http.StatusBadRequest, "bad_request", "Некорректное тело запроса")
		return
	}
	if err := choice.Validate(); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid_choice", err.Error())
		return
	}
	mode, _ := choice.Mode()

	cmd := messaging.RunCommand{Choice: choice}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		cmd.RequestedBy = claims.Subject
	}

	if err := h.trigger.Trigger(r.Context(), cmd); err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка постановки прогона",
			interfaces.LogField{Key: "error", Value: err.Error()})
		fail(w, r, http.StatusServiceUnavailable, "unavailable", "Не удалось поставить прогон в очередь")
		return
	}
	h.logger.InfoWithContext(r.Context(), "Прогон поставлен в очередь",
		interfaces.LogField{Key: "mode", Value: string(mode)},
		interfaces.LogField{Key: "requested_by", Value: cmd.RequestedBy},
	)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{Success: true, Data: acceptedRun{Mode: mode, RequestedBy: cmd.RequestedBy}})
}

// LastRun возвращает итоги последнего прогона
func (h *RunHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		fail(w, r, http.StatusNotFound, "not_found", "История прогонов не ведется")
		return
	}
	snap, err := h.history.LastRun(r.Context())
	if errors.Is(err, models.ErrNoRuns) {
		fail(w, r, http.StatusNotFound, "not_found", "Прогонов еще не было")
		return
	}
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка чтения истории прогонов",
			interfaces.LogField{Key: "error", Value: err.Error()})
		fail(w, r, http.StatusInternalServerError, "internal_error", "Ошибка чтения истории прогонов")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{Success: true, Data: snap})
}
