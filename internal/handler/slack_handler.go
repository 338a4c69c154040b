package handler

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/pkg/response"
	"github.com/filipjov/askoro/internal/service"
)

// SlackHandler serves the slash-command webhook. Slack authenticates with a
// signed request header rather than a bearer token, so the route is mounted
// outside the JWT middleware.
type SlackHandler struct {
	slack *service.SlackService
}

func NewSlackHandler(slack *service.SlackService) *SlackHandler {
	return &SlackHandler{slack: slack}
}

// Command handles POST /api/slack/command.
func (h *SlackHandler) Command(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	verifyErr := h.slack.VerifySignature(
		c.GetHeader("X-Slack-Request-Timestamp"),
		c.GetHeader("X-Slack-Signature"),
		body,
	)
	if response.ErrorFrom(c, verifyErr) {
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		response.BadRequest(c, "invalid form payload")
		return
	}

	// Slack probes the endpoint with ssl_check=1 during setup.
	if form.Get("ssl_check") == "1" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	cmd := service.SlackCommand{
		Text:        form.Get("text"),
		ResponseURL: form.Get("response_url"),
		UserID:      form.Get("user_id"),
		ChannelID:   form.Get("channel_id"),
	}

	message := h.slack.HandleCommand(c.Request.Context(), cmd)
	if message == nil {
		// The real answer arrives later through the response_url.
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, message)
}
