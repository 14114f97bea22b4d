package auth

import "errors"

// Sentinel errors of the auth subsystem. Transport maps ErrUnauthorized to
// 401 and ErrBadRequest to 400; everything else is an internal failure.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrBadRequest   = errors.New("auth: bad request")
)

// Stable user-facing messages. All authentication failures past the
// "credentials well-formed" stage collapse to MsgAccessRevoked so a caller
// cannot tell which layer rejected them; the richer reason is only logged.
//
// MsgTokenExpired is matched verbatim by the CLI to trigger automatic
// re-login — do not change it casually.
const (
	MsgAccessRevoked = "Provided credentials are invalid or the access was " +
		"revoked, please contact service administrator"
	MsgTokenExpired = "The provided token has expired. " +
		"Please re-login to get a new token"
	MsgAccessDenied = "Access denied"
)

// Error pairs a sentinel kind with the message shown to callers.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Unauthorized wraps ErrUnauthorized with a caller-visible message.
func Unauthorized(msg string) error {
	return &Error{kind: ErrUnauthorized, msg: msg}
}

// BadRequest wraps ErrBadRequest with a caller-visible message.
func BadRequest(msg string) error {
	return &Error{kind: ErrBadRequest, msg: msg}
}
