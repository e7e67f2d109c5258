package errors

import "net/http"

// ErrorResponse is the body returned by synchronous endpoints.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// HTTPStatus maps an error onto the status a synchronous endpoint returns.
// Provider 4xx responses mean the provider rejected our content.
func HTTPStatus(err error) int {
	stdErr, ok := AsStandard(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch stdErr.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuth:
		return http.StatusUnauthorized
	case ErrCodeProviderAPI:
		if stdErr.Status >= 400 && stdErr.Status < 500 {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse builds the JSON error body for err.
func ToResponse(err error) ErrorResponse {
	stdErr := Normalize(err)

	details := map[string]interface{}{}
	if stdErr.Details != "" {
		details["details"] = stdErr.Details
	}
	if stdErr.Status != 0 {
		details["status"] = stdErr.Status
	}
	if stdErr.RemoteCode != "" {
		details["code"] = stdErr.RemoteCode
	}
	for k, v := range stdErr.Metadata {
		details[k] = v
	}

	resp := ErrorResponse{
		Error:   string(stdErr.Code),
		Message: stdErr.Message,
	}
	if len(details) > 0 {
		resp.Details = details
	}
	return resp
}
