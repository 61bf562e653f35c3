package common

import (
	"encoding/json"
	"net/http"
)

// WriteJSONResponse writes data as a JSON body with the given HTTP status.
func WriteJSONResponse[T any](w http.ResponseWriter, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteSuccessResponse writes data with status 200.
func WriteSuccessResponse[T any](w http.ResponseWriter, data T) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// Empty is the body of operations that only acknowledge success.
type Empty struct{}
