// Package simplyblock is the thin HTTP client for the external storage
// control plane named in the error taxonomy (SimplyblockAPIError): it
// implements resize.StorageBackend by issuing an IOPS update against the
// storage backend's volume API.
package simplyblock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// Client calls the Simplyblock storage control plane's HTTP API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient builds a Client against baseURL, authenticated with apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type setIOPSRequest struct {
	IOPS int64 `json:"iops"`
}

// SetIOPS implements resize.StorageBackend (§4.3 "propagate to the
// storage backend (external interface)").
func (c *Client) SetIOPS(ctx context.Context, volumeHandle string, iops int64) error {
	body, err := json.Marshal(setIOPSRequest{IOPS: iops})
	if err != nil {
		return apierrors.Deployment("simplyblock.SetIOPS", err)
	}

	url := fmt.Sprintf("%s/volumes/%s/iops", c.BaseURL, volumeHandle)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return apierrors.Deployment("simplyblock.SetIOPS", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apierrors.Deployment("simplyblock.SetIOPS", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apierrors.Deployment("simplyblock.SetIOPS",
			fmt.Errorf("storage backend returned status %d for volume %s", resp.StatusCode, volumeHandle))
	}
	return nil
}
