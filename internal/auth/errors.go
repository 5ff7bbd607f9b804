package auth

import "errors"

// ErrSessionRevoked indicates the token id is no longer in the
// Active-Session Set even though the signature may still verify.
var ErrSessionRevoked = errors.New("session revoked or expired")
