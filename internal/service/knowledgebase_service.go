package service

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"go.uber.org/zap"

	"github.com/filipjov/askoro/internal/config"
	infraerrors "github.com/filipjov/askoro/internal/pkg/errors"
	"github.com/filipjov/askoro/internal/pkg/logger"
)

// Citation is one generated-answer citation, with references enriched by a
// source URL recovered from object metadata where available.
type Citation struct {
	GeneratedText string      `json:"generatedText,omitempty"`
	References    []Reference `json:"retrievedReferences"`
}

// Reference is one retrieved document backing a citation.
type Reference struct {
	URI       string `json:"uri,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// QueryAnswer is the response of a knowledge base query.
type QueryAnswer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	SessionID string     `json:"sessionId,omitempty"`
}

// KnowledgeBaseService fronts Bedrock retrieve-and-generate over the synced
// content, resolving citations back to their source permalinks.
type KnowledgeBaseService struct {
	cfg       *config.Config
	retrieval RetrievalClient
	store     ObjectStore
}

func NewKnowledgeBaseService(cfg *config.Config, retrieval RetrievalClient, store ObjectStore) *KnowledgeBaseService {
	return &KnowledgeBaseService{cfg: cfg, retrieval: retrieval, store: store}
}

// Query asks the knowledge base. sessionID carries conversation context
// across calls and may be empty.
func (s *KnowledgeBaseService) Query(ctx context.Context, query, sessionID string) (*QueryAnswer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, infraerrors.BadRequest(infraerrors.ReasonBadRequest, "query is required")
	}
	if s.cfg.AWS.KnowledgeBaseID == "" || s.cfg.AWS.ModelARN == "" {
		return nil, infraerrors.Internal(infraerrors.ReasonNotConfigured, "knowledge base is not configured")
	}

	input := &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(query)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(s.cfg.AWS.KnowledgeBaseID),
				ModelArn:        aws.String(s.cfg.AWS.ModelARN),
			},
		},
	}
	if sessionID != "" {
		input.SessionId = aws.String(sessionID)
	}

	out, err := s.retrieval.RetrieveAndGenerate(ctx, input)
	if err != nil {
		return nil, infraerrors.BadGateway(infraerrors.ReasonUpstreamFailed, "failed to retrieve knowledge base answer").WithCause(err)
	}

	answer := &QueryAnswer{
		Citations: s.enrichCitations(ctx, out.Citations),
		SessionID: aws.ToString(out.SessionId),
	}
	if out.Output != nil {
		answer.Text = aws.ToString(out.Output.Text)
	}
	return answer, nil
}

// enrichCitations maps SDK citations to the boundary shape and resolves
// each s3 reference to its stored permalink. Lookups are memoized per call
// by URI; failed and absent lookups are cached as misses.
func (s *KnowledgeBaseService) enrichCitations(ctx context.Context, citations []types.Citation) []Citation {
	out := make([]Citation, 0, len(citations))
	memo := map[string]string{}

	for _, cit := range citations {
		enriched := Citation{References: []Reference{}}
		if cit.GeneratedResponsePart != nil && cit.GeneratedResponsePart.TextResponsePart != nil {
			enriched.GeneratedText = aws.ToString(cit.GeneratedResponsePart.TextResponsePart.Text)
		}
		for _, ref := range cit.RetrievedReferences {
			r := Reference{}
			if ref.Content != nil {
				r.Excerpt = aws.ToString(ref.Content.Text)
			}
			if ref.Location != nil && ref.Location.S3Location != nil {
				r.URI = aws.ToString(ref.Location.S3Location.Uri)
				r.SourceURL = s.sourceURL(ctx, r.URI, memo)
			}
			enriched.References = append(enriched.References, r)
		}
		out = append(out, enriched)
	}
	return out
}

// sourceURL resolves an s3 URI to the permalink stored in object metadata.
func (s *KnowledgeBaseService) sourceURL(ctx context.Context, uri string, memo map[string]string) string {
	if cached, ok := memo[uri]; ok {
		return cached
	}
	memo[uri] = ""

	bucket, key, ok := parseS3URI(uri)
	if !ok {
		return ""
	}
	metadata, err := s.store.Metadata(ctx, bucket, key)
	if err != nil {
		logger.Warn("citation metadata lookup failed", zap.String("uri", uri), zap.Error(err))
		return ""
	}
	memo[uri] = metadata["quip-url"]
	return memo[uri]
}

// parseS3URI splits s3://bucket/key. Anything else is rejected.
func parseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
