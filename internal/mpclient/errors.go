package mpclient

import (
	"errors"
	"fmt"
)

// Kind classifies an API error code.
type Kind string

const (
	KindInvalidCredential Kind = "invalid_credential"
	KindWrongSecret       Kind = "wrong_secret"
	KindIPNotAllowed      Kind = "ip_not_allowed"
	KindRateLimited       Kind = "rate_limited"
	KindUnauthorized      Kind = "unauthorized"
	KindOther             Kind = "other"
)

type codeInfo struct {
	kind Kind
	hint string
}

var knownCodes = map[int]codeInfo{
	40001: {KindInvalidCredential, "access token is invalid or belongs to another account; check the AppID and AppSecret"},
	40125: {KindWrongSecret, "the AppSecret is wrong; reset it in the platform console and update the account"},
	40164: {KindIPNotAllowed, "the calling IP is not on the allow-list; add the relay server's address in the platform console"},
	45009: {KindRateLimited, "the daily API quota is exhausted; try again later"},
	48001: {KindUnauthorized, "the API is not authorised for this account; check that the account is verified and has the permission"},
}

// APIError is a non-zero errcode returned by the platform.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if info, ok := knownCodes[e.Code]; ok {
		return fmt.Sprintf("mpclient: api error %d (%s): %s", e.Code, e.Message, info.hint)
	}
	return fmt.Sprintf("mpclient: api error %d: %s", e.Code, e.Message)
}

// Kind returns the classification of the error code.
func (e *APIError) Kind() Kind {
	if info, ok := knownCodes[e.Code]; ok {
		return info.kind
	}
	return KindOther
}

// Hint returns operator guidance for known codes, or "".
func (e *APIError) Hint() string {
	return knownCodes[e.Code].hint
}

// IsCredentialError reports whether err means the cached token or the
// credentials behind it are no longer usable.
func IsCredentialError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Kind() {
	case KindInvalidCredential, KindWrongSecret:
		return true
	}
	return apiErr.Code == 40014 || apiErr.Code == 42001
}

// envelope is the error header every JSON response carries.
type envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (e envelope) apiError() error {
	if e.ErrCode == 0 {
		return nil
	}
	return &APIError{Code: e.ErrCode, Message: e.ErrMsg}
}

// StatusError is returned for non-2xx HTTP responses without an errcode.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mpclient: %s returned HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}
