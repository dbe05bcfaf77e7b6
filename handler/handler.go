package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hn-stories/internal/domain"
	"hn-stories/internal/metrics"
	"hn-stories/internal/usecase"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 50

	correlationHeader = "X-Correlation-Id"

	routeNewest = "/api/stories/newest"
	routeStory  = "/api/stories/:id"
)

type StoriesUseCase interface {
	NewestStories(ctx context.Context, in usecase.ListInput) (domain.StoryPage, error)
	StoryByID(ctx context.Context, id int) (*domain.Item, error)
}

type storyResponse struct {
	ID          int       `json:"id"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
	By          string    `json:"by,omitempty"`
	Time        int64     `json:"time"`
	Score       int       `json:"score"`
	Descendants int       `json:"descendants"`
	Type        string    `json:"type,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type pageResponse struct {
	Stories    []storyResponse `json:"stories"`
	TotalCount int             `json:"totalCount"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	stories        StoriesUseCase
	allowedOrigins []string
	logger         *slog.Logger
}

type Option func(*Handler)

// WithAllowedOrigins sets the origins that receive CORS headers on Lambda
// responses. "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(stories StoriesUseCase, opts ...Option) (*Handler, error) {
	if stories == nil {
		return nil, errors.New("handler: stories use case must not be nil")
	}
	h := &Handler{stories: stories, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := correlationID(func(name string) string { return headerValue(req.Headers, name) })
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: corrID,
	}
	if origin := headerValue(req.Headers, "Origin"); origin != "" && h.originAllowed(origin) {
		headers["Access-Control-Allow-Origin"] = origin
		headers["Vary"] = "Origin"
	}

	if req.HTTPMethod == http.MethodOptions {
		headers["Access-Control-Allow-Methods"] = "GET, OPTIONS"
		headers["Access-Control-Allow-Headers"] = "Content-Type, " + correlationHeader
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: headers}, nil
	}

	route, status, body := h.route(ctx, req, corrID)
	metrics.ObserveHTTP(req.HTTPMethod, route, status, start)

	buf, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode response", "correlation_id", corrID, "err", err)
		buf = []byte(`{"error":"INTERNAL_ERROR","message":"failed to encode response"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(buf),
	}, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest, corrID string) (string, int, any) {
	if req.HTTPMethod != http.MethodGet {
		return "unmatched", http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED", Message: "only GET is supported"}
	}

	segments := strings.Split(strings.Trim(req.Path, "/"), "/")
	n := len(segments)
	switch {
	case n >= 2 && segments[n-2] == "stories" && segments[n-1] == "newest":
		status, body := h.listStories(ctx, func(key string) string { return req.QueryStringParameters[key] }, corrID)
		return routeNewest, status, body
	case n >= 2 && segments[n-2] == "stories":
		rawID := segments[n-1]
		if id, ok := req.PathParameters["id"]; ok {
			rawID = id
		}
		status, body := h.getStory(ctx, rawID, corrID)
		return routeStory, status, body
	default:
		return "unmatched", http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route not found"}
	}
}

// Register mounts the story endpoints on a gin router.
func (h *Handler) Register(r gin.IRouter) {
	r.GET(routeNewest, func(c *gin.Context) {
		corrID := correlationID(c.GetHeader)
		c.Header(correlationHeader, corrID)
		status, body := h.listStories(c.Request.Context(), c.Query, corrID)
		c.JSON(status, body)
	})
	r.GET(routeStory, func(c *gin.Context) {
		corrID := correlationID(c.GetHeader)
		c.Header(correlationHeader, corrID)
		status, body := h.getStory(c.Request.Context(), c.Param("id"), corrID)
		c.JSON(status, body)
	})
}

func (h *Handler) listStories(ctx context.Context, query func(string) string, corrID string) (int, any) {
	page, err := intParam(query("page"), defaultPage)
	if err != nil || page < 1 {
		return http.StatusBadRequest, invalidInput("Page must be greater than 0")
	}
	pageSize, err := intParam(query("pageSize"), defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		return http.StatusBadRequest, invalidInput(fmt.Sprintf("Page size must be between 1 and %d", maxPageSize))
	}

	result, err := h.stories.NewestStories(ctx, usecase.ListInput{
		Page:     page,
		PageSize: pageSize,
		Search:   query("search"),
	})
	if err != nil {
		h.logger.Error("error getting newest stories", "correlation_id", corrID, "err", err)
		return h.errorStatus(err, "An error occurred while fetching stories")
	}
	return http.StatusOK, toPageResponse(result)
}

func (h *Handler) getStory(ctx context.Context, rawID, corrID string) (int, any) {
	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil || id < 1 {
		return http.StatusBadRequest, invalidInput("Story ID must be greater than 0")
	}

	item, err := h.stories.StoryByID(ctx, id)
	if err != nil {
		h.logger.Error("error getting story", "correlation_id", corrID, "id", id, "err", err)
		return h.errorStatus(err, "An error occurred while fetching the story")
	}
	if item == nil {
		return http.StatusNotFound, errorResponse{
			Error:   string(usecase.ErrorNotFound),
			Message: fmt.Sprintf("Story with ID %d not found", id),
		}
	}
	return http.StatusOK, toStoryResponse(*item)
}

func (h *Handler) errorStatus(err error, message string) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: message}
	}
	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	return status, errorResponse{Error: string(ucErr.Code), Message: message}
}

func (h *Handler) originAllowed(origin string) bool {
	return slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin)
}

func invalidInput(message string) errorResponse {
	return errorResponse{Error: string(usecase.ErrorInvalidInput), Message: message}
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func toStoryResponse(item domain.Item) storyResponse {
	return storyResponse{
		ID:          item.ID,
		Title:       item.Title,
		URL:         item.URL,
		By:          item.By,
		Time:        item.Time,
		Score:       item.Score,
		Descendants: item.Descendants,
		Type:        item.Type,
		CreatedAt:   item.CreatedAt(),
	}
}

func toPageResponse(p domain.StoryPage) pageResponse {
	stories := make([]storyResponse, 0, len(p.Stories))
	for _, item := range p.Stories {
		stories = append(stories, toStoryResponse(item))
	}
	return pageResponse{
		Stories:    stories,
		TotalCount: p.TotalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(),
	}
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through as sent.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func correlationID(get func(string) string) string {
	if id := strings.TrimSpace(get(correlationHeader)); id != "" {
		return id
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
