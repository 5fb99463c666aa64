package httpapi

import (
	"net/http"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/presence"
)

// handleWS upgrades to a websocket and joins the presence hub. The session
// middleware has already authenticated the request; the cookie rides along on
// the upgrade request so no separate token exchange is needed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c := auth.FromContext(r.Context())
	s.hub.ServeWS(w, r, presence.User{
		Name:  c.Name,
		Email: c.Email,
		Photo: s.photos.Get(c.Email, c.Name),
	})
}
