package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sprout-agent/internal/domain"
	"sprout-agent/internal/gateway"
	"sprout-agent/internal/logging"
)

const (
	correlationHeader = "X-Correlation-Id"
	codeUnauthorized  = "UNAUTHORIZED"
)

// Conversation answers one chat turn for an authenticated user.
type Conversation interface {
	HandleTurn(ctx context.Context, messages []domain.ChatMessage, userID string) (domain.ChatMessage, error)
}

type Handler struct {
	conv   Conversation
	logger *zap.Logger
}

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

type chatResponse struct {
	Reply domain.ChatMessage `json:"reply"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHandler(conv Conversation, logger *zap.Logger) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{conv: conv, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With(zap.String("correlation_id", correlationID))

	userID := authorizedUser(req.RequestContext.Authorizer)
	if userID == "" {
		logger.Warn("request without authenticated user")
		return respondJSON(http.StatusUnauthorized, correlationID, errorResponse{Error: codeUnauthorized}), nil
	}
	// HandleTurn adds user_id to the logger it derives from the context.
	turnCtx := logging.WithContext(ctx, logger)
	logger = logger.With(zap.String("user_id", userID))

	messages, err := decodeMessages(req.Body)
	if err != nil {
		return respondJSON(http.StatusBadRequest, correlationID, errorResponse{
			Error:   string(gateway.ErrorInvalidInput),
			Message: "messages must be an array",
		}), nil
	}

	reply, err := h.conv.HandleTurn(turnCtx, messages, userID)
	if err != nil {
		status, code := statusForError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("chat turn failed", zap.Error(err))
		} else {
			logger.Info("chat turn rejected", zap.Error(err))
		}
		return respondJSON(status, correlationID, errorResponse{Error: code}), nil
	}
	return respondJSON(http.StatusOK, correlationID, chatResponse{Reply: reply}), nil
}

func decodeMessages(body string) ([]domain.ChatMessage, error) {
	var req chatRequest
	dec := json.NewDecoder(bytes.NewBufferString(body))
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("handler: trailing data after request body")
	}
	raw := bytes.TrimSpace(req.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("handler: messages must be an array")
	}
	var messages []domain.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// authorizedUser reads the caller id set by the API Gateway authorizer.
func authorizedUser(authorizer map[string]interface{}) string {
	if claims, ok := authorizer["claims"].(map[string]interface{}); ok {
		if sub := stringValue(claims["sub"]); sub != "" {
			return sub
		}
	}
	for _, key := range []string{"userId", "principalId"} {
		if v := stringValue(authorizer[key]); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func statusForError(err error) (int, string) {
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		return http.StatusInternalServerError, string(gateway.ErrorInternal)
	}
	switch gerr.Code {
	case gateway.ErrorInvalidInput:
		return http.StatusBadRequest, string(gerr.Code)
	case gateway.ErrorRateLimited:
		return http.StatusTooManyRequests, string(gerr.Code)
	case gateway.ErrorUpstream:
		return http.StatusBadGateway, string(gerr.Code)
	default:
		return http.StatusInternalServerError, string(gateway.ErrorInternal)
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respondJSON(status int, correlationID string, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
