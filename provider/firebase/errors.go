package firebase

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	auth "github.com/goliatone/go-studio-auth"
)

// restCodes maps Identity Toolkit REST error messages to the codes the
// web SDK reports.
var restCodes = map[string]string{
	"EMAIL_NOT_FOUND":             "user-not-found",
	"INVALID_PASSWORD":            "wrong-password",
	"INVALID_LOGIN_CREDENTIALS":   "invalid-login-credentials",
	"USER_DISABLED":               "user-disabled",
	"TOO_MANY_ATTEMPTS_TRY_LATER": "too-many-requests",
	"INVALID_EMAIL":               "invalid-email",
	"MISSING_EMAIL":               "invalid-email",
	"OPERATION_NOT_ALLOWED":       "operation-not-allowed",
	"PASSWORD_LOGIN_DISABLED":     "operation-not-allowed",
	"EMAIL_EXISTS":                "email-already-in-use",
	"WEAK_PASSWORD":               "weak-password",
	"INVALID_OOB_CODE":            "invalid-action-code",
	"EXPIRED_OOB_CODE":            "expired-action-code",
	"INVALID_ID_TOKEN":            "user-token-expired",
	"TOKEN_EXPIRED":               "user-token-expired",
	"USER_NOT_FOUND":              "user-token-expired",
	"INVALID_REFRESH_TOKEN":       "invalid-refresh-token",
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError turns a failed REST response into a provider error.
func decodeError(op string, res *http.Response) *auth.ProviderError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	perr := &auth.ProviderError{
		Provider:  ProviderName,
		Operation: op,
		Status:    res.StatusCode,
		Code:      "auth/internal-error",
	}

	var payload restError
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		perr.Message = strings.TrimSpace(string(body))
		if res.StatusCode == http.StatusTooManyRequests {
			perr.Code = "auth/too-many-requests"
		}
		return perr
	}

	raw, detail, _ := strings.Cut(payload.Error.Message, ":")
	raw = strings.TrimSpace(raw)
	perr.Message = strings.TrimSpace(detail)
	if perr.Message == "" {
		perr.Message = raw
	}
	if code, ok := restCodes[raw]; ok {
		perr.Code = "auth/" + code
	} else {
		perr.Code = "auth/" + strings.ToLower(strings.ReplaceAll(raw, "_", "-"))
	}
	return perr
}

// transportError reports a request that never got a response.
func transportError(op string, err error) *auth.ProviderError {
	return &auth.ProviderError{
		Provider:  ProviderName,
		Operation: op,
		Code:      "auth/network-request-failed",
		Message:   err.Error(),
		Err:       err,
	}
}
