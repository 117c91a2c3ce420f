package ratelimit

import (
	"net/http"

	"github.com/arkastore/backend-promo/internal/common"
)

// ClientKey derives a rate limit key for a request: the authenticated user ID
// when present, otherwise the caller's IP.
func ClientKey(r *http.Request) string {
	if userID, ok := common.UserID(r.Context()); ok && userID != "" {
		return "user:" + userID
	}
	return "ip:" + common.ClientIP(r)
}
