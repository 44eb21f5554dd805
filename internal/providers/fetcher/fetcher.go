package fetcher

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/types"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/utils"
)

const (
	// SubscriptionKeyHeader carries the host's subscription key
	SubscriptionKeyHeader = "apiKey"
	// RequestIDHeader correlates a fetch with server logs
	RequestIDHeader = "X-Request-ID"

	manifestPath        = "/host/{projectId}/miniapp/{appId}/version/{versionId}/manifest"
	previewManifestPath = "/host/{projectId}/preview/miniapp/{appId}/version/{versionId}/manifest"
)

// Config locates the manifest API
type Config struct {
	BaseURL         string
	ProjectID       string
	SubscriptionKey string
	// Preview fetches manifests of unpublished versions
	Preview bool
	Client  ClientConfig
}

// HTTPFetcher downloads manifests from the mini-app platform
type HTTPFetcher struct {
	cfg    Config
	client *Client
	log    *zap.Logger
}

// New creates an HTTP manifest fetcher
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*HTTPFetcher, error) {
	if cfg.BaseURL == "" {
		return nil, types.InvalidArgument("fetcher base url is required")
	}
	if cfg.ProjectID == "" {
		return nil, types.InvalidArgument("fetcher project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := NewClient(cfg.Client, logger, metrics)
	client.Resty.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.SubscriptionKey != "" {
		client.SetHeader(SubscriptionKeyHeader, "ras-"+cfg.SubscriptionKey)
	}

	return &HTTPFetcher{cfg: cfg, client: client, log: logger}, nil
}

// Client exposes the underlying client for breaker inspection
func (f *HTTPFetcher) Client() *Client {
	return f.client
}

// FetchManifest downloads the manifest of appID at versionID. lang selects
// the localisation of permission descriptions and may be empty.
//
// Errors: *types.NetworkError when the platform cannot be reached or keeps
// failing with 5xx, *types.NotFoundError, *types.NoPublishedVersionError and
// *types.FetchError for any other unexpected answer.
func (f *HTTPFetcher) FetchManifest(ctx context.Context, appID, versionID, lang string) (types.Manifest, error) {
	if appID == "" || versionID == "" {
		return types.Manifest{}, types.InvalidArgument("app id and version id are required")
	}

	m, err := resilience.Execute(ctx, f.client.Breaker, func(ctx context.Context) (types.Manifest, error) {
		return f.fetch(ctx, appID, versionID, lang)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return types.Manifest{}, &types.NetworkError{AppID: appID, VersionID: versionID, Err: err}
	}
	return m, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, appID, versionID, lang string) (types.Manifest, error) {
	req, err := f.client.Request(ctx)
	if err != nil {
		return types.Manifest{}, err
	}

	requestID := uuid.NewString()
	req.SetHeader(RequestIDHeader, requestID).
		SetPathParams(map[string]string{
			"projectId": f.cfg.ProjectID,
			"appId":     appID,
			"versionId": versionID,
		})
	if lang != "" {
		req.SetQueryParam("lang", lang)
	}

	path := manifestPath
	if f.cfg.Preview {
		path = previewManifestPath
	}

	resp, err := req.Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return types.Manifest{}, ctx.Err()
		}
		f.log.Debug("Manifest request failed",
			zap.String("app_id", appID),
			zap.String("version_id", versionID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return types.Manifest{}, &types.NetworkError{AppID: appID, VersionID: versionID, Err: err}
	}

	return f.decode(resp, appID, versionID)
}

func (f *HTTPFetcher) decode(resp *resty.Response, appID, versionID string) (types.Manifest, error) {
	status := resp.StatusCode()
	body := resp.Body()

	switch {
	case status == http.StatusOK:
		if err := utils.ValidateSize(body, utils.MaxManifestSize); err != nil {
			return types.Manifest{}, &types.FetchError{AppID: appID, VersionID: versionID, StatusCode: status, Message: err.Error()}
		}
		var m types.Manifest
		if err := sonic.Unmarshal(body, &m); err != nil {
			return types.Manifest{}, &types.FetchError{AppID: appID, VersionID: versionID, StatusCode: status, Message: "malformed manifest: " + err.Error()}
		}
		return m, nil

	case status == http.StatusNotFound:
		if strings.Contains(strings.ToLower(string(body)), "published") {
			return types.Manifest{}, &types.NoPublishedVersionError{AppID: appID}
		}
		return types.Manifest{}, &types.NotFoundError{AppID: appID, VersionID: versionID}

	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return types.Manifest{}, &types.NetworkError{
			AppID:     appID,
			VersionID: versionID,
			Err:       errors.New(resp.Status()),
		}

	default:
		return types.Manifest{}, &types.FetchError{
			AppID:      appID,
			VersionID:  versionID,
			StatusCode: status,
			Message:    errorMessage(body),
		}
	}
}

// errorMessage extracts {"message": "..."} or falls back to the raw body
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
