package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByKind = map[string]int{
	"NOT_FOUND":          http.StatusNotFound,
	"CONFLICT":           http.StatusConflict,
	"VALIDATION_FAILED":  http.StatusBadRequest,
	"NOT_ACTIVE":         http.StatusUnprocessableEntity,
	"ENDED":              http.StatusUnprocessableEntity,
	"INSUFFICIENT_STOCK": http.StatusUnprocessableEntity,
	"BID_TOO_LOW":        http.StatusUnprocessableEntity,
	"NOT_WINNER":         http.StatusUnprocessableEntity,
	"VOUCHER_INVALID":    http.StatusUnprocessableEntity,
}

// writeError maps domain errors to their status and hides everything else
// behind a 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := domain.Kind(err)
	code, ok := statusByKind[kind]
	if !ok {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: kind})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Code: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "VALIDATION_FAILED"})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
