package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"

	"github.com/filipjov/askoro/internal/config"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/logger"
)

// slackSignatureWindow bounds how stale a signed request may be.
const slackSignatureWindow = 5 * time.Minute

// SlackMessage is an outgoing slash-command response.
type SlackMessage struct {
	ResponseType string           `json:"response_type,omitempty"`
	Text         string           `json:"text,omitempty"`
	Blocks       []map[string]any `json:"blocks,omitempty"`
}

// SlackCommand is a parsed slash-command invocation.
type SlackCommand struct {
	Text        string
	ResponseURL string
	UserID      string
	ChannelID   string
}

// SlackService verifies and answers slash commands against the knowledge
// base. Long-running queries are answered through the command's response
// URL after an immediate acknowledgement.
type SlackService struct {
	cfg  *config.Config
	kb   *KnowledgeBaseService
	http *req.Client
}

func NewSlackService(cfg *config.Config, kb *KnowledgeBaseService) *SlackService {
	return &SlackService{
		cfg:  cfg,
		kb:   kb,
		http: req.C().SetTimeout(30 * time.Second),
	}
}

// VerifySignature checks the v0 HMAC signature over "v0:{ts}:{body}" and
// rejects requests older than the replay window.
func (s *SlackService) VerifySignature(timestamp, signature string, body []byte) error {
	if s.cfg.Slack.SigningSecret == "" {
		return infraerrors.Internal(infraerrors.ReasonNotConfigured, "slack integration not configured")
	}
	if timestamp == "" || signature == "" {
		return infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "missing slack signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "invalid slack request timestamp")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > slackSignatureWindow || age < -slackSignatureWindow {
		return infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "slack request timestamp expired")
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.Slack.SigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return infraerrors.Unauthorized(infraerrors.ReasonRequiresAuthentication, "invalid slack signature")
	}
	return nil
}

// HandleCommand answers a verified slash command. A nil return with no
// error means the reply was (or will be) delivered through the response
// URL and the HTTP response body should stay empty.
func (s *SlackService) HandleCommand(ctx context.Context, cmd SlackCommand) *SlackMessage {
	text := strings.TrimSpace(cmd.Text)

	if text == "" {
		help := &SlackMessage{
			ResponseType: "ephemeral",
			Text:         "Please provide a question after the command. Example: `/askoro How do I restore the DynamoDB backup?`",
		}
		if cmd.ResponseURL != "" {
			go s.postMessage(cmd.ResponseURL, help)
			return nil
		}
		return help
	}

	if cmd.ResponseURL == "" {
		answer, err := s.kb.Query(ctx, text, "")
		if err != nil {
			logger.Error("slack knowledge base query failed", zap.Error(err))
			return &SlackMessage{
				ResponseType: "ephemeral",
				Text:         fmt.Sprintf("Sorry, I couldn't look up that answer: %s", infraerrors.FromError(err).Message),
			}
		}
		return buildSlackMessage(answer, cmd.UserID, "")
	}

	go func() {
		ctx := context.Background()
		answer, err := s.kb.Query(ctx, text, "")
		var message *SlackMessage
		if err != nil {
			logger.Error("slack knowledge base query failed", zap.Error(err))
			message = &SlackMessage{
				ResponseType: "ephemeral",
				Text:         fmt.Sprintf("Sorry, I couldn't look up that answer: %s", infraerrors.FromError(err).Message),
			}
		} else {
			message = buildSlackMessage(answer, cmd.UserID, cmd.ChannelID)
		}
		s.postMessage(cmd.ResponseURL, message)
	}()

	return &SlackMessage{
		ResponseType: "ephemeral",
		Text:         fmt.Sprintf("Searching the knowledge base for “%s”…", text),
	}
}

// buildSlackMessage renders the answer as a section block quoting the
// question's author, followed by a context block of source links.
func buildSlackMessage(answer *QueryAnswer, userID, channelID string) *SlackMessage {
	text := answer.Text
	if text == "" {
		text = "No answer found."
	}

	header := "Knowledge base answer:"
	if userID != "" {
		header = fmt.Sprintf("<@%s> asked:", userID)
	}

	blocks := []map[string]any{
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s\n>%s", header, text),
			},
		},
	}

	var references []string
	for _, citation := range answer.Citations {
		for _, ref := range citation.References {
			source := ref.SourceURL
			if source == "" {
				source = ref.URI
			}
			if source == "" {
				continue
			}
			if strings.HasPrefix(source, "http") {
				references = append(references, fmt.Sprintf("<%s|Source>", source))
			} else {
				references = append(references, "Source: "+strings.TrimPrefix(source, "s3://"))
			}
		}
	}
	if len(references) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": strings.Join(references, " • ")},
			},
		})
	}

	responseType := "ephemeral"
	if channelID != "" {
		responseType = "in_channel"
	}
	return &SlackMessage{ResponseType: responseType, Text: text, Blocks: blocks}
}

// postMessage delivers a message to a command's response URL, best effort.
func (s *SlackService) postMessage(responseURL string, message *SlackMessage) {
	resp, err := s.http.R().
		SetBody(message).
		Post(responseURL)
	if err != nil {
		logger.Error("posting slack response failed", zap.Error(err))
		return
	}
	if !resp.IsSuccessState() {
		logger.Warn("slack response url rejected message", zap.Int("status", resp.StatusCode))
	}
}
