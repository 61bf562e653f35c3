package common

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaynode/relaynode/pkg/errors"
)

// MaxBodySize bounds request bodies. Engine configurations are the largest
// payloads this API accepts.
const MaxBodySize = 16 << 20

// bodyField is the key used when a failure cannot be tied to one field.
const bodyField = "body"

// DecodeJSONBody decodes the request body into v, returning a field-addressed
// validation error when the body is missing or malformed.
func DecodeJSONBody(r *http.Request, v any) *errors.APIError {
	decoder := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	err := decoder.Decode(v)
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.Is(err, io.EOF):
		return errors.NewFieldError(bodyField, "field required")
	case stderrors.As(err, &syntaxErr):
		return errors.NewFieldError(bodyField, fmt.Sprintf("Invalid JSON body at offset %d", syntaxErr.Offset))
	case stderrors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = bodyField
		}
		return errors.NewFieldError(field, fmt.Sprintf("invalid type, expected %s", typeErr.Type))
	default:
		return errors.NewFieldError(bodyField, err.Error())
	}
}

// ParseJSONBodyReturn decodes the body into v and, on failure, writes the 422
// response itself. Handlers return immediately when it reports an error.
func ParseJSONBodyReturn(w http.ResponseWriter, r *http.Request, v any) error {
	if apiErr := DecodeJSONBody(r, v); apiErr != nil {
		errors.WriteErrorResponse(w, apiErr)
		return apiErr
	}
	return nil
}

// SessionRequest is the body of operations that only carry the owner token.
type SessionRequest struct {
	SessionID *string `json:"session_id"`
}

// ParseSessionID validates a session_id body member.
func ParseSessionID(raw *string) (uuid.UUID, *errors.APIError) {
	if raw == nil {
		return uuid.Nil, errors.NewFieldError("session_id", "field required")
	}
	token, err := uuid.Parse(*raw)
	if err != nil {
		return uuid.Nil, errors.NewFieldError("session_id", "value is not a valid uuid")
	}
	return token, nil
}
