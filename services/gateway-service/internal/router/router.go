// Package router is the edge reverse proxy in front of the CleanRoute
// services. It checks bearer tokens before forwarding; upstreams verify them
// again and apply their own role rules.
package router

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/cleanroute/cleanroute/libs/auth"
)

type Route struct {
	Prefix   string
	Upstream *url.URL
	// Public routes skip the token check, e.g. the payment webhook whose
	// signature is its authentication.
	Public bool
	// Roles, when set, limits the route to these roles.
	Roles []auth.Role
}

type Upstreams struct {
	Auth         *url.URL
	Booking      *url.URL
	Billing      *url.URL
	Notification *url.URL
}

// Routes is the CleanRoute route table. Longer prefixes win because
// ServeMux picks the most specific pattern.
func Routes(u Upstreams) []Route {
	staff := []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin}
	return []Route{
		{Prefix: "/api/v1/auth", Upstream: u.Auth, Public: true},
		{Prefix: "/api/v1/public", Upstream: u.Booking, Public: true},
		{Prefix: "/api/v1/appointments", Upstream: u.Booking},
		{Prefix: "/api/v1/config", Upstream: u.Booking},
		{Prefix: "/api/v1/customers", Upstream: u.Booking, Roles: staff},
		{Prefix: "/api/v1/admin/billing", Upstream: u.Booking, Roles: staff},
		{Prefix: "/api/v1/invoices", Upstream: u.Billing},
		{Prefix: "/api/v1/billing/webhooks/stripe", Upstream: u.Billing, Public: true},
		{Prefix: "/api/v1/admin/notifications", Upstream: u.Notification, Roles: staff},
	}
}

// New builds the proxy mux. transport is shared by every upstream.
func New(mux *http.ServeMux, routes []Route, secret string, transport http.RoundTripper, logger *slog.Logger) {
	proxies := map[string]*httputil.ReverseProxy{}
	for _, rt := range routes {
		key := rt.Upstream.String()
		p, ok := proxies[key]
		if !ok {
			p = httputil.NewSingleHostReverseProxy(rt.Upstream)
			p.Transport = transport
			p.ErrorHandler = proxyError(logger, key)
			proxies[key] = p
		}
		var h http.Handler = p
		if !rt.Public {
			h = requireAuth(h, secret, rt.Roles)
		}
		mux.Handle(rt.Prefix, h)
		if !strings.HasSuffix(rt.Prefix, "/") {
			mux.Handle(rt.Prefix+"/", h)
		}
	}
}

func proxyError(logger *slog.Logger, upstream string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream request failed", "err", err, "upstream", upstream, "path", r.URL.Path)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
}

func requireAuth(next http.Handler, secret string, roles []auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimSpace(header) == "Bearer" {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), secret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasRole(role auth.Role, allowed []auth.Role) bool {
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
