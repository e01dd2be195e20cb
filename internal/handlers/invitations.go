package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/errors"
	"github.com/charlesng35/syncmeet/pkg/response"
)

// InvitationHandler exposes the invitation lifecycle.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an invitation handler.
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

type respondInvitationRequest struct {
	Token  string `json:"token" validate:"required,max=64"`
	Status string `json:"status" validate:"required,oneof=ACCEPTED DECLINED accepted declined"`
}

// List returns the invitations the caller sent and received.
func (h *InvitationHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	overview, err := h.invitations.ListForUser(requestContext(c), actor)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, overview)
}

// Respond accepts or declines the invitation identified by token.
func (h *InvitationHandler) Respond(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req respondInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invitation, err := h.invitations.Respond(requestContext(c), actor, req.Token, req.Status)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, invitation)
}
