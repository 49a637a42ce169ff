package handlers

import (
	"html/template"
	"net/http"

	"github.com/upb/authgate/internal/observability"
	"github.com/upb/authgate/middleware"
	"go.uber.org/zap"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "home"}}<!doctype html>
<html><head><title>authgate</title></head>
<body>
<h1>Welcome</h1>
<p><a href="/dashboard">Dashboard</a> · <a href="{{.LoginPath}}">Sign in</a></p>
</body></html>
{{end}}
{{define "dashboard"}}<!doctype html>
<html><head><title>Dashboard · authgate</title></head>
<body>
<h1>Dashboard</h1>
<p>Signed in as <strong>{{.User.Name}}</strong>{{with .User.Email}} ({{.}}){{end}}</p>
{{with .User.Role}}<p>Role: {{.}}</p>{{end}}
<p><a href="{{.LogoutPath}}">Sign out</a></p>
</body></html>
{{end}}`))

type pageData struct {
	LoginPath  string
	LogoutPath string
	User       *middleware.Principal
}

// PageHandler serves the HTML pages behind the gate
type PageHandler struct {
	loginPath  string
	logoutPath string
	logger     *zap.Logger
}

// NewPageHandler creates a PageHandler linking to the provider's routes
func NewPageHandler(authPrefix string, logger *zap.Logger) *PageHandler {
	return &PageHandler{
		loginPath:  authPrefix + "/login",
		logoutPath: authPrefix + "/logout",
		logger:     logger,
	}
}

// HandleHome handles GET /, which is public
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "home", pageData{LoginPath: h.loginPath})
}

// HandleDashboard handles GET /dashboard. The gate has already redirected
// anonymous callers; a request without a session here came through an
// invalid token pass-through.
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetPrincipalFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, h.loginPath, http.StatusFound)
		return
	}
	h.render(w, r, "dashboard", pageData{LogoutPath: h.logoutPath, User: user})
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		observability.WithRequestFields(r.Context(), h.logger).Error("failed to render page", zap.String("page", name), zap.Error(err))
	}
}
