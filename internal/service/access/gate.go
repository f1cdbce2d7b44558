// Package access decides whether a participant's turns are forwarded to the
// assistant. The check is a UX gate for the study, not an authentication
// mechanism, and must not protect anything else.
package access

import "strconv"

const (
	minUserID = 10000
	maxUserID = 99999
)

// RefusalMessage replaces the assistant answer for participants without a valid id.
const RefusalMessage = "I'm not authorized to reply yet. Please enter preferred name and user ID in the sidebar so I can continue helping you."

// IsAuthenticated reports whether userID is a five digit study id.
func IsAuthenticated(userID string) bool {
	if userID == "" {
		return false
	}
	for _, r := range userID {
		if r < '0' || r > '9' {
			return false
		}
	}

	n, err := strconv.Atoi(userID)
	if err != nil {
		return false
	}
	return n >= minUserID && n <= maxUserID
}
