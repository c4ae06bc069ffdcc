package common

import (
	"net/http"

	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
)

// SessionHeader names the UI session whose master context a request addresses
const SessionHeader = "X-Session-ID"

// SessionID returns the caller's UI session key, or empty for an
// unauthenticated request. See SessionKey.
func SessionID(r *http.Request) string {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil || user.UserID == "" {
		return ""
	}
	return SessionKey(user.UserID, r.Header.Get(SessionHeader))
}

// SessionKey scopes a client-chosen session name to its user. Without a
// name every request of the user shares one session. Keys of different
// users never collide.
func SessionKey(userID, clientSession string) string {
	if clientSession == "" {
		return "user:" + userID
	}
	return userID + "/" + clientSession
}

// UserID returns the authenticated user's id, or empty
func UserID(r *http.Request) string {
	if user, err := auth.GetUserFromContext(r.Context()); err == nil {
		return user.UserID
	}
	return ""
}
