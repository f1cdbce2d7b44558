package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// ClientCookie carries the browser client id. Conversation state is
	// scoped to it and lives as long as the server process.
	ClientCookie = "climate_client"
	// ClientHeader lets non-browser clients pass the id explicitly.
	ClientHeader = "X-Client-ID"
)

type clientKey struct{}

// ClientSession resolves the client id of a request, issuing a new one when
// the request carries none.
func ClientSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := validClientID(r.Header.Get(ClientHeader))
		if id == "" {
			if cookie, err := r.Cookie(ClientCookie); err == nil {
				id = validClientID(cookie.Value)
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), clientKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientID returns the client id stored by ClientSession.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}

// WithClientID stores id on ctx.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientKey{}, id)
}

func validClientID(raw string) string {
	id, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return id.String()
}
