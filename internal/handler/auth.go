package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-gamma/backend/internal/model"
	"github.com/open-gamma/backend/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	link    *service.LinkService
	session *service.SessionService
}

func NewAuthHandler(link *service.LinkService, session *service.SessionService) *AuthHandler {
	return &AuthHandler{link: link, session: session}
}

// Link godoc
// @Summary Start account linking
// @Description Creates an anonymous identity, stores a signed state cookie and returns the provider redirect URL.
// @Tags auth
// @Produce json
// @Success 200 {object} model.LinkResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/link [post]
func (h *AuthHandler) Link(c *gin.Context) {
	start, err := h.link.StartLink(c.Request.Context())
	if err != nil {
		if !errors.Is(err, service.ErrUpstream) {
			logrus.WithError(err).Error("Failed to start account link")
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to initiate login"})
		return
	}

	setCookie(c, h.link.StateCookie(), start.StateToken)
	c.JSON(http.StatusOK, model.LinkResponse{
		RedirectURL:  start.RedirectURL,
		ConnectionID: start.ConnectionID,
	})
}

// Verify godoc
// @Summary Complete account linking
// @Description Verifies the state cookie, confirms the provider connection and sets the session cookie. The state cookie is cleared on every outcome.
// @Tags auth
// @Produce json
// @Success 200 {object} model.VerifyResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	stateCookie := h.link.StateCookie()
	token, _ := c.Cookie(stateCookie.Name)
	clearCookie(c, stateCookie)

	userID, err := h.link.CompleteLink(c.Request.Context(), token)
	if err != nil {
		writeLinkError(c, err)
		return
	}

	session, err := h.session.Issue(userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to issue session")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Verification failed"})
		return
	}

	setCookie(c, h.session.CookieConfig(), session)
	c.JSON(http.StatusOK, model.VerifyResponse{UserID: userID})
}

// Logout godoc
// @Summary Logout
// @Description Clears the session cookie.
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthLogoutResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	clearCookie(c, h.session.CookieConfig())
	c.JSON(http.StatusOK, model.AuthLogoutResponse{Status: "logged_out"})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security SessionCookie
// @Success 200 {object} model.AuthMeResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, model.AuthMeResponse{UserID: user.ID})
}

func setCookie(c *gin.Context, cfg service.CookieConfig, value string) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, value, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func clearCookie(c *gin.Context, cfg service.CookieConfig) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

// writeLinkError keeps the client-facing bodies coarse. Which check failed is
// only visible in the logs.
func writeLinkError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid or expired state"})
	case errors.Is(err, service.ErrNoConnection):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "No connected account found"})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Verification failed"})
	default:
		logrus.WithError(err).Error("Account link verification failed")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Verification failed"})
	}
}
