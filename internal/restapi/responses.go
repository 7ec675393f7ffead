package restapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"transitsync.dev/internal/logging"
)

// envelope wraps every API response.
type envelope struct {
	Code        int                 `json:"code"`
	CurrentTime int64               `json:"currentTime"`
	Text        string              `json:"text"`
	Data        interface{}         `json:"data,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
}

// listData is the data of list endpoints.
type listData[T any] struct {
	List []T `json:"list"`
	// LimitExceeded is set when more results were available than returned.
	LimitExceeded bool `json:"limitExceeded"`
}

func newList[T any](items []T, limitExceeded bool) listData[T] {
	if items == nil {
		items = []T{}
	}
	return listData[T]{List: items, LimitExceeded: limitExceeded}
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

func (api *RestAPI) writeEnvelope(w http.ResponseWriter, r *http.Request, response envelope) {
	setJSONResponseType(&w)
	w.WriteHeader(response.Code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "Failed to encode response", err)
	}
}

func (api *RestAPI) sendResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	api.writeEnvelope(w, r, envelope{
		Code:        http.StatusOK,
		CurrentTime: api.clock().Now().UnixMilli(),
		Text:        "OK",
		Data:        data,
	})
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found")
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	api.writeEnvelope(w, r, envelope{
		Code:        code,
		CurrentTime: api.clock().Now().UnixMilli(),
		Text:        message,
	})
}

func (api *RestAPI) validationErrorResponse(w http.ResponseWriter, r *http.Request, fieldErrors map[string][]string) {
	api.writeEnvelope(w, r, envelope{
		Code:        http.StatusBadRequest,
		CurrentTime: api.clock().Now().UnixMilli(),
		Text:        "invalid request",
		FieldErrors: fieldErrors,
	})
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "Request failed", err,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())))
	api.sendError(w, r, http.StatusInternalServerError, "internal server error")
}
