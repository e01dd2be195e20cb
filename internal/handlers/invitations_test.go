package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/syncmeet/internal/handlers/testutil"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/internal/services"
)

func TestInvitationHandlerListAndRespond(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithoutCalendar())
	_, aliceToken := env.CreateUser("alice@example.com", "Alice")
	_, bobToken := env.CreateUser("bob@example.com", "Bob")
	_, carolToken := env.CreateUser("carol@example.com", "Carol")

	meeting := createMeeting(t, env, aliceToken, meetingBody("Planning", slot(9), slot(10), "bob@example.com"))
	token := meeting.Invitations[0].Token

	w := env.Request(http.MethodGet, "/api/invitations", nil, bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	var overview services.InvitationOverview
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &overview)
	require.Len(t, overview.Received, 1)
	require.Empty(t, overview.Sent)

	w = env.Request(http.MethodGet, "/api/invitations", nil, aliceToken)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &overview)
	require.Len(t, overview.Sent, 1)

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": token, "status": "accepted"}, bobToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var invitation models.Invitation
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &invitation)
	require.Equal(t, models.InvitationAccepted, invitation.Status)
	require.NotNil(t, invitation.RespondedAt)

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": token, "status": "ACCEPTED"}, bobToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": token, "status": "DECLINED"}, bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &invitation)
	require.Equal(t, models.InvitationDeclined, invitation.Status)

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": token, "status": "ACCEPTED"}, carolToken)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestInvitationHandlerRespondRejections(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithoutCalendar())
	_, bobToken := env.CreateUser("bob@example.com", "Bob")

	w := env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": "abc", "status": "PENDING"}, bobToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "status must be one of")

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"status": "ACCEPTED"}, bobToken)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/invitations/respond", map[string]string{"token": "unknown", "status": "ACCEPTED"}, bobToken)
	require.Equal(t, http.StatusNotFound, w.Code)
}
