package common

// Header and query names shared by the HTTP API and its clients.
const (
	AccessTokenParamName = "access_token"
	SessionIDParamName   = "session_id"
)

// MaxRejectReasonLength bounds the free-text reason a signer may give.
const MaxRejectReasonLength = 1000
