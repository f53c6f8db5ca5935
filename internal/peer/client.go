package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lanshare/internal/models"
	"lanshare/pkg/utils"
)

var logger = logrus.WithField("component", "peer")

// Endpoint addresses a transfer server.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) BaseURL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

type TestResponse struct {
	Message string `json:"message"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Time    string `json:"time"`
}

// ConnectionResult is the outcome of TestConnection. It never carries a Go error.
type ConnectionResult struct {
	Success bool          `json:"success"`
	URL     string        `json:"url,omitempty"`
	Data    *TestResponse `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// StatusError is a non-2xx answer from the server. It is final: no fallback is tried.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Resetter is implemented by progress writers that can start over. UploadFile
// resets one before a fallback attempt re-reads the file.
type Resetter interface {
	Reset()
}

type Client struct {
	http *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

// candidates lists the LAN address first and localhost second.
func candidates(host string) []string {
	if host == "" || host == utils.Localhost {
		return []string{utils.Localhost}
	}
	return []string{host, utils.Localhost}
}

// TestConnection probes GET /test on ep.Host, then on localhost.
func (c *Client) TestConnection(ctx context.Context, ep Endpoint) ConnectionResult {
	var failures []string
	for _, host := range candidates(ep.Host) {
		target := Endpoint{Host: host, Port: ep.Port}
		data, err := c.getTest(ctx, target)
		if err == nil {
			logger.WithField("url", target.BaseURL()).Info("connection test succeeded")
			return ConnectionResult{Success: true, URL: target.BaseURL(), Data: data}
		}
		logger.WithError(err).WithField("url", target.BaseURL()).Debug("connection test failed")
		failures = append(failures, fmt.Sprintf("%s: %v", host, err))
	}
	return ConnectionResult{Error: strings.Join(failures, "; ")}
}

func (c *Client) getTest(ctx context.Context, ep Endpoint) (*TestResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL()+"/test", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out TestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode test response: %w", err)
	}
	return &out, nil
}

// UploadFile posts path as multipart field "file" to ep. If the request fails
// at the transport level it is retried once against localhost; an HTTP error
// status is returned as *StatusError without retry. progress, if non-nil,
// receives every byte read from the file on each attempt.
func (c *Client) UploadFile(ctx context.Context, ep Endpoint, path string, progress io.Writer) (*models.UploadedFile, error) {
	hosts := candidates(ep.Host)
	var err error
	for i, host := range hosts {
		target := Endpoint{Host: host, Port: ep.Port}
		var file *models.UploadedFile
		file, err = c.upload(ctx, target, path, progress)
		if err == nil {
			return file, nil
		}

		var urlErr *url.Error
		if !errors.As(err, &urlErr) || ctx.Err() != nil || i == len(hosts)-1 {
			break
		}
		logger.WithError(err).WithField("url", target.BaseURL()).Warn("upload failed, retrying on localhost")
		if r, ok := progress.(Resetter); ok {
			r.Reset()
		}
	}
	return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
}

func (c *Client) upload(ctx context.Context, ep Endpoint, path string, progress io.Writer) (*models.UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	go func() {
		var src io.Reader = f
		if progress != nil {
			src = io.TeeReader(f, progress)
		}
		fw, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(fw, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL()+"/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var out struct {
		Success bool                 `json:"success"`
		File    *models.UploadedFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if !out.Success || out.File == nil {
		return nil, errors.New("server did not accept the file")
	}
	return out.File, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
