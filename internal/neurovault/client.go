// Package neurovault publishes result images to a NeuroVault-compatible
// image repository.
package neurovault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public NeuroVault instance.
const DefaultBaseURL = "https://neurovault.org"

// Collection is a remote image collection.
type Collection struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Image is an uploaded statistical map.
type Image struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ImageMetadata describes an uploaded image.
type ImageMetadata struct {
	Name                      string
	Modality                  string
	MapType                   string
	AnalysisLevel             string
	CognitiveParadigmCogatlas string
	NumberOfSubjects          *int
	IsValid                   bool
}

// fields returns the multipart form fields for m.
func (m ImageMetadata) fields() [][2]string {
	f := [][2]string{
		{"name", m.Name},
		{"modality", m.Modality},
		{"map_type", m.MapType},
		{"analysis_level", m.AnalysisLevel},
		{"cognitive_paradigm_cogatlas", m.CognitiveParadigmCogatlas},
		{"is_valid", strconv.FormatBool(m.IsValid)},
	}
	if m.NumberOfSubjects != nil {
		f = append(f, [2]string{"number_of_subjects", strconv.Itoa(*m.NumberOfSubjects)})
	}
	return f
}

// APIError is a non-2xx response from the repository.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neurovault: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the NeuroVault REST API with a bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client authenticating with accessToken.
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	hc.Timeout = timeout
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// CreateCollection creates a collection named name.
func (c *Client) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/collections/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var col Collection
	if err := c.do(req, &col); err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	return &col, nil
}

// AddImage uploads the file at path into a collection.
func (c *Client) AddImage(ctx context.Context, collectionID int, path string, meta ImageMetadata) (*Image, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeImageForm(mw, path, meta))
	}()

	url := fmt.Sprintf("%s/api/collections/%d/images/", c.baseURL, collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var img Image
	if err := c.do(req, &img); err != nil {
		pr.Close()
		return nil, fmt.Errorf("add image %s: %w", filepath.Base(path), err)
	}
	return &img, nil
}

func writeImageForm(mw *multipart.Writer, path string, meta ImageMetadata) error {
	for _, kv := range meta.fields() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
