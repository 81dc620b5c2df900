/*
Package req provides helpers for parsing HTTP request bodies and query parameters
into validated values, reporting failures as *errs.CustomError.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"forumdm/internal/pkg/errs"
)

// MaxJSONBodyBytes caps request bodies decoded by BindJSON.
const MaxJSONBodyBytes int64 = 64 << 10

// BindJSON decodes the JSON body of r into dst, rejecting unknown fields and trailing data.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// QueryInt64 reads a required positive integer query parameter.
func QueryInt64(r *http.Request, key string) (int64, *errs.CustomError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}
	return v, nil
}

// QueryOffset reads an optional non-negative offset parameter, defaulting to 0.
func QueryOffset(r *http.Request, key string) (int, *errs.CustomError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}
	return v, nil
}
