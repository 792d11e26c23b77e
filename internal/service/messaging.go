// Package service exposes the messaging operations over HTTP JSON.
package service

import (
	"strings"

	"MsgBridge/internal/biz"
	"MsgBridge/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewMessagingService)

// MessagingService is the HTTP surface over the hybrid router. Handlers
// translate JSON to router calls; all routing policy stays in biz.
type MessagingService struct {
	router *biz.RouterUseCase
	logger *log.Helper
}

// NewMessagingService creates the service over the router use case.
func NewMessagingService(router *biz.RouterUseCase, logger log.Logger) *MessagingService {
	return &MessagingService{
		router: router,
		logger: log.NewHelper(logger),
	}
}

// AddMessageRequest is the POST /api/v1/messages payload.
type AddMessageRequest struct {
	DepositionID    string `json:"deposition_id"`
	Subject         string `json:"subject"`
	Text            string `json:"text"`
	Sender          string `json:"sender"`
	ContextType     string `json:"context_type,omitempty"`
	ContextValue    string `json:"context_value,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	MessageType     string `json:"message_type,omitempty"`
}

// AddMessageResponse reports the aggregate routing outcome.
type AddMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
}

// MessagesResponse is the message list for one deposition.
type MessagesResponse struct {
	DepositionID string          `json:"deposition_id"`
	Count        int             `json:"count"`
	Messages     []model.Message `json:"messages"`
}

// HealthResponse reports per-backend health.
type HealthResponse struct {
	Status   string                         `json:"status"`
	Backends map[string]model.BackendStatus `json:"backends"`
}

// SetFlagRequest is the POST /api/v1/flags/{name} payload.
type SetFlagRequest struct {
	Enabled           bool    `json:"enabled"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// AddMessage routes one message write.
func (s *MessagingService) AddMessage(ctx khttp.Context) error {
	var req AddMessageRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("INVALID_BODY", err.Error())
	}
	if strings.TrimSpace(req.DepositionID) == "" {
		return kerrors.BadRequest("MISSING_DEPOSITION_ID", "deposition_id is required")
	}

	msg := &model.Message{
		DepositionID:    req.DepositionID,
		Subject:         req.Subject,
		Text:            req.Text,
		Sender:          req.Sender,
		ContextType:     req.ContextType,
		ContextValue:    req.ContextValue,
		ParentMessageID: req.ParentMessageID,
		MessageType:     req.MessageType,
	}

	ok := s.router.AddMessage(ctx, msg)
	if !ok {
		s.logger.Errorw("msg", "message write failed on all routed backends",
			"deposition_id", req.DepositionID, "message_id", msg.MessageID)
		return ctx.Result(500, &AddMessageResponse{Success: false, MessageID: msg.MessageID})
	}
	return ctx.Result(200, &AddMessageResponse{Success: true, MessageID: msg.MessageID})
}

// GetMessages returns all messages for one deposition.
func (s *MessagingService) GetMessages(ctx khttp.Context) error {
	depositionID := ctx.Vars().Get("id")
	if depositionID == "" {
		return kerrors.BadRequest("MISSING_DEPOSITION_ID", "deposition id path segment is required")
	}

	msgs := s.router.FetchMessages(ctx, depositionID)
	return ctx.Result(200, &MessagesResponse{
		DepositionID: depositionID,
		Count:        len(msgs),
		Messages:     msgs,
	})
}

// GetMessage returns one message by id, 404 when absent.
func (s *MessagingService) GetMessage(ctx khttp.Context) error {
	messageID := ctx.Vars().Get("id")
	if messageID == "" {
		return kerrors.BadRequest("MISSING_MESSAGE_ID", "message id path segment is required")
	}

	msg := s.router.FetchMessage(ctx, messageID)
	if msg == nil {
		return kerrors.NotFound("MESSAGE_NOT_FOUND", "no message with id "+messageID)
	}
	return ctx.Result(200, msg)
}

// GetConsistency validates one deposition across both backends.
func (s *MessagingService) GetConsistency(ctx khttp.Context) error {
	depositionID := ctx.Vars().Get("id")
	if depositionID == "" {
		return kerrors.BadRequest("MISSING_DEPOSITION_ID", "deposition id path segment is required")
	}

	report := s.router.ValidateConsistency(ctx, depositionID)
	return ctx.Result(200, report)
}

// GetHealth reports backend health. The service itself answering is the
// liveness signal; degraded backends do not fail the endpoint.
func (s *MessagingService) GetHealth(ctx khttp.Context) error {
	backends := s.router.BackendHealth()

	status := "ok"
	for _, st := range backends {
		if st == model.BackendFailed {
			status = "degraded"
			break
		}
	}
	return ctx.Result(200, &HealthResponse{Status: status, Backends: backends})
}

// GetMetrics returns the performance snapshot.
func (s *MessagingService) GetMetrics(ctx khttp.Context) error {
	return ctx.Result(200, s.router.PerformanceReport())
}

// SetFlag updates one feature flag at runtime.
func (s *MessagingService) SetFlag(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")
	if name == "" {
		return kerrors.BadRequest("MISSING_FLAG_NAME", "flag name path segment is required")
	}

	var req SetFlagRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("INVALID_BODY", err.Error())
	}
	if req.RolloutPercentage < 0 || req.RolloutPercentage > 100 {
		return kerrors.BadRequest("INVALID_ROLLOUT", "rollout_percentage must be within [0,100]")
	}

	s.router.Flags().SetFlag(name, req.Enabled, req.RolloutPercentage)
	s.logger.Infow("msg", "feature flag set via API",
		"flag", name, "enabled", req.Enabled, "rollout", req.RolloutPercentage)

	return ctx.Result(200, s.router.Flags().Snapshot()[name])
}

// RegisterRoutes attaches the JSON routes to the HTTP server.
func (s *MessagingService) RegisterRoutes(srv *khttp.Server) {
	r := srv.Route("/")
	r.POST("/api/v1/messages", s.AddMessage)
	r.GET("/api/v1/messages/{id}", s.GetMessage)
	r.GET("/api/v1/depositions/{id}/messages", s.GetMessages)
	r.GET("/api/v1/depositions/{id}/consistency", s.GetConsistency)
	r.GET("/api/v1/health", s.GetHealth)
	r.GET("/api/v1/metrics", s.GetMetrics)
	r.POST("/api/v1/flags/{name}", s.SetFlag)
}
