package shared

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/pkg/errors"
)

var (
	ErrBadRouting = errors.New("inconsistent mapping between route and handler (programmer error)")
)

func EncodeResponse200(_ context.Context, w http.ResponseWriter, response interface{}) error {
	return encodeResponse(w, http.StatusOK, response)
}

func EncodeResponse201(_ context.Context, w http.ResponseWriter, response interface{}) error {
	return encodeResponse(w, http.StatusCreated, response)
}

func EncodeResponse204(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func encodeResponse(w http.ResponseWriter, code int, response interface{}) error {
	if response == nil {
		w.WriteHeader(code)
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(response)
}

// StatusCode maps a business error to its HTTP status. Unknown errors are
// server errors.
func StatusCode(err error) int {
	switch errors.Cause(err) {
	case ErrBadRouting, checkin.ErrBadRequest:
		return http.StatusBadRequest
	case checkin.ErrUnauthorized:
		return http.StatusForbidden
	case checkin.ErrNotFound:
		return http.StatusNotFound
	case checkin.ErrExpired:
		return http.StatusGone
	case checkin.ErrAgeIneligible:
		return http.StatusUnprocessableEntity
	case checkin.ErrInvalidState, checkin.ErrAlreadyPending, checkin.ErrNotCheckedIn,
		checkin.ErrAlreadyCheckedIn, checkin.ErrAlreadyCheckedInToday,
		checkin.ErrCapacityExceeded, checkin.ErrServiceClosed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// EncodeError writes err as {"error", "code"}. Clients branch on the code,
// the message is meant for humans.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	code := StatusCode(err)
	body := api.ErrorTransport{Error: err.Error(), Code: checkin.Code(err)}
	if checkin.IsBusiness(err) {
		body.Error = checkin.UserMessage(err)
	}
	if code == http.StatusInternalServerError {
		body = api.ErrorTransport{Error: checkin.UserMessage(err), Code: checkin.Code(checkin.ErrServer)}
	}
	WriteJSON(w, body, code)
}

func WriteJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	switch v := data.(type) {
	case []byte:
		w.Write(v)
	case string:
		w.Write([]byte(v))
	default:
		json.NewEncoder(w).Encode(data)
	}
}

func HttpError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, api.ErrorTransport{Error: message}, code)
}
