package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"gatekeeper/internal/errors"
)

// maxBodyBytes bounds JSON request bodies; webhook bodies use maxWebhookBytes.
const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 25 << 20
)

// repoID joins the owner and name path parameters.
func repoID(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
}

func prNumber(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n < 1 {
		return 0, errors.NewValidationError("pull request number must be a positive integer", err)
	}
	return n, nil
}

// intQuery parses an optional non-negative integer parameter.
func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("invalid "+key+" parameter", err)
	}
	return n, nil
}

// listQuery splits a comma-separated parameter.
func listQuery(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeBody reads an optional JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return errors.NewValidationError("invalid request body", err)
	}
	return nil
}
