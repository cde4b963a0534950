// Package detector talks to the remote page-detection API, which also stores
// the per-folder scam.json documents and their thumbnails.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/camden-git/scamqc/models"
)

// Client is a thin JSON client for the detection API. It sets no timeout of
// its own; requests end when the context is cancelled.
type Client struct {
	BaseURL    string
	User       string
	Password   string
	HTTPClient *http.Client
}

func NewClient(baseURL, user, password string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		User:       user,
		Password:   password,
		HTTPClient: &http.Client{},
	}
}

// APIError is a non-2xx answer of the detection API
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("detection api %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

type runScamFileRequest struct {
	FolderPath  string                  `json:"folder_path"`
	ScamOptions models.DetectionOptions `json:"scam_options"`
	FileInfo    models.ScamImageData    `json:"file_info"`
}

type folderRequest struct {
	FolderPath string `json:"folder_path"`
}

type saveScamJSONRequest struct {
	FolderPath  string          `json:"folder_path"`
	ScamJSONObj models.ScamData `json:"scam_json_obj"`
}

// RunScamFile runs detection on one image. Any rects in the answer are dropped.
func (c *Client) RunScamFile(ctx context.Context, folder string, opts models.DetectionOptions, file models.ScamImageData) (*models.ScamImageData, error) {
	var out models.ScamImageData
	req := runScamFileRequest{FolderPath: folder, ScamOptions: opts, FileInfo: file}
	if err := c.postJSON(ctx, "run_scam_file", req, &out); err != nil {
		return nil, err
	}
	out.Rects = nil
	if out.ThumbnailPath == "" {
		out.ThumbnailPath = file.ThumbnailPath
	}
	return &out, nil
}

// GetScamJSON fetches the folder's scam.json
func (c *Client) GetScamJSON(ctx context.Context, folder string) (*models.ScamData, error) {
	var out models.ScamData
	if err := c.postJSON(ctx, "get_scam_json", folderRequest{FolderPath: folder}, &out); err != nil {
		return nil, err
	}
	for i := range out.Files {
		out.Files[i].Rects = nil
	}
	return &out, nil
}

// SaveScamJSON publishes the folder's scam.json
func (c *Client) SaveScamJSON(ctx context.Context, folder string, data models.ScamData) error {
	return c.postJSON(ctx, "save_scam_json", saveScamJSONRequest{FolderPath: folder, ScamJSONObj: data}, nil)
}

// GetThumbnailBytes downloads the JPEG thumbnail of an image
func (c *Client) GetThumbnailBytes(ctx context.Context, thumbnailPath string) ([]byte, error) {
	u := c.BaseURL + "/get_thumbnail_bytes?thumbnail_path=" + url.QueryEscape(thumbnailPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building thumbnail request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus("get_thumbnail_bytes", resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading thumbnail %s: %w", thumbnailPath, err)
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(endpoint, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			// cancellation is not an error worth logging
			return nil, req.Context().Err()
		}
		log.Printf("detector: request to %s failed: %v", req.URL.Path, err)
		return nil, fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	return resp, nil
}

func checkStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
