// Package restapi implements the control-plane REST calls against the
// Kinesis Video Signaling/Streams API: DescribeSignalingChannel,
// CreateSignalingChannel, GetSignalingChannelEndpoint,
// GetIceServerConfig, DescribeMediaStorageConfiguration,
// JoinStorageSession, and DeleteSignalingChannel (spec C5), grounded in
// the teacher's pkg/api client (LanternOps-breeze/agent/pkg/api/client.go)
// for the marshal/sign/POST/parse shape.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/httputil"
	"github.com/kvs-signaling/core/internal/logging"
	"github.com/kvs-signaling/core/internal/model"
	"github.com/kvs-signaling/core/internal/signing"
)

var log = logging.L("restapi")

const (
	postfixDescribeChannel    = "/describeSignalingChannel"
	postfixCreateChannel      = "/createSignalingChannel"
	postfixGetEndpoint        = "/getSignalingChannelEndpoint"
	postfixGetIceConfig       = "/v1/get-ice-server-config"
	postfixJoinStorageSession = "/joinStorageSession"
	postfixDescribeMediaConf  = "/describeMediaStorageConfiguration"
	postfixUpdateMediaConf    = "/updateMediaStorageConfiguration"
	postfixDeleteChannel      = "/deleteSignalingChannel"
)

// Client performs signed control-plane REST calls.
type Client struct {
	HTTPClient *http.Client
	Creds      model.CredentialsProvider
	Region     string
	Skew       *clockskew.Table
	RetryCfg   httputil.RetryConfig
	Now        func() time.Time

	// OnLatency, if set, is invoked when every call returns, whatever its
	// outcome (success, mapped API error, or a rate-limiter, credentials,
	// signing or transport failure), with the API postfix and elapsed wall
	// time, for the façade's EMA latency diagnostics (spec §4.10).
	OnLatency func(api string, d time.Duration)

	// Limiter caps the call rate into the control plane so a tight retry
	// loop (e.g. a stuck DESCRIBE/CREATE cycle) can't hammer the service
	// faster than the retry policy's own backoff ceiling intends.
	Limiter *rate.Limiter
}

// NewClient returns a Client with the default retry policy, a 15s HTTP
// client timeout matching the WSS connect timeout budget, and a limiter
// capped at one call per the retry policy's initial delay.
func NewClient(httpClient *http.Client, creds model.CredentialsProvider, region string, skew *clockskew.Table) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	retryCfg := httputil.DefaultRetryConfig()
	return &Client{
		HTTPClient: httpClient,
		Creds:      creds,
		Region:     region,
		Skew:       skew,
		RetryCfg:   retryCfg,
		Now:        time.Now,
		Limiter:    rate.NewLimiter(rate.Every(retryCfg.InitialDelay), 10),
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// call signs, retries, and POSTs body to controlPlaneURL+postfix, returning
// the response bytes on a 2xx status. 4xx responses are mapped to a
// SignalingError via mapClientError; non-retryable failures bubble up
// wrapped in ErrTransportFailed.
func (c *Client) call(ctx context.Context, state model.State, controlPlaneURL, postfix string, body []byte) ([]byte, error) {
	url := controlPlaneURL + postfix
	started := c.now()
	if c.OnLatency != nil {
		defer func() { c.OnLatency(postfix, c.now().Sub(started)) }()
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, model.WrapError(model.ErrOperationTimedOut, "rate limiter wait canceled", err)
		}
	}

	creds, err := c.Creds.Fetch(ctx, c.now())
	if err != nil {
		return nil, model.WrapError(model.ErrNoCredentials, "failed to fetch credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, model.WrapError(model.ErrInternalError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := signing.SignRequest(ctx, req, creds, c.Region, c.Skew, state, c.now(), body); err != nil {
		return nil, err
	}

	resp, err := httputil.Do(ctx, c.HTTPClient, http.MethodPost, url, body, req.Header, c.RetryCfg)
	if err != nil {
		return nil, model.WrapError(model.ErrTransportFailed, "control-plane call failed: "+postfix, err)
	}
	defer resp.Body.Close()

	c.observeSkew(state, resp.Header.Get("Date"))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapError(model.ErrTransportFailed, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, model.NewError(model.ErrServiceCallNotAuthorized, "control-plane call not authorized: "+postfix)
	}
	if resp.StatusCode >= 400 {
		return nil, mapClientError(postfix, resp.StatusCode, respBody)
	}

	return respBody, nil
}

func (c *Client) observeSkew(state model.State, dateHeader string) {
	if dateHeader == "" {
		return
	}
	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		log.Debug("could not parse Date header for clock-skew tracking", "value", dateHeader, "error", err)
		return
	}
	c.Skew.Observe(model.EndpointControlPlane, state, serverTime, c.now())
}

func mapClientError(postfix string, status int, body []byte) error {
	var apiErr struct {
		Message string `json:"Message"`
		Code    string `json:"__type"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := fmt.Sprintf("%s returned HTTP %d: %s", postfix, status, apiErr.Message)
	if status == http.StatusNotFound || strings.Contains(apiErr.Code, "ResourceNotFoundException") {
		return model.NewError(model.ErrResourceNotFound, msg)
	}
	return model.NewError(model.ErrInvalidApiReturn, msg)
}
