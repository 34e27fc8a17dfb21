package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"livecommerce/internal/observability"
)

const basicAuthUser = "OPENVIDUAPP"

// OpenViduClient talks to the OpenVidu REST API.
type OpenViduClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewOpenViduClient returns a client for the server at baseURL.
func NewOpenViduClient(baseURL, secret string, timeout time.Duration) *OpenViduClient {
	return &OpenViduClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenViduClient) CreateSession(ctx context.Context, sessionID string) (string, error) {
	body := map[string]any{
		"customSessionId": sessionID,
		"recordingMode":   "MANUAL",
		"defaultRecordingProperties": map[string]any{
			"outputMode":      "COMPOSED",
			"recordingLayout": "BEST_FIT",
			"hasAudio":        true,
			"hasVideo":        true,
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "create_session", http.MethodPost, "/openvidu/api/sessions", body, &out)
	if StatusOf(err) == http.StatusConflict {
		return sessionID, nil
	}
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = sessionID
	}
	return out.ID, nil
}

func (c *OpenViduClient) CreateAccessToken(ctx context.Context, sessionID string, role Role, data string) (string, error) {
	body := map[string]any{
		"type": "WEBRTC",
		"role": string(connectionRole(role)),
		"data": data,
	}
	var out struct {
		Token string `json:"token"`
	}
	path := "/openvidu/api/sessions/" + url.PathEscape(sessionID) + "/connection"
	if err := c.do(ctx, "create_token", http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// connectionRole maps application roles onto the roles OpenVidu knows.
func connectionRole(role Role) Role {
	switch Role(strings.ToUpper(string(role))) {
	case RoleHost, RolePublisher:
		return RolePublisher
	case RoleModerator:
		return RoleModerator
	default:
		return RoleSubscriber
	}
}

// StartRecording is a no-op when the session already has an active recording.
func (c *OpenViduClient) StartRecording(ctx context.Context, sessionID string) error {
	existing, err := c.FindRecording(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Active() {
		return nil
	}
	body := map[string]any{
		"session":         sessionID,
		"outputMode":      "COMPOSED",
		"recordingLayout": "BEST_FIT",
		"hasAudio":        true,
		"hasVideo":        true,
	}
	return c.do(ctx, "start_recording", http.MethodPost, "/openvidu/api/recordings/start", body, nil)
}

// StopRecording stops the active recording of the session, if any.
func (c *OpenViduClient) StopRecording(ctx context.Context, sessionID string) error {
	rec, err := c.FindRecording(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Active() {
		return nil
	}
	return c.do(ctx, "stop_recording", http.MethodPost, "/openvidu/api/recordings/stop/"+url.PathEscape(rec.ID), nil, nil)
}

func (c *OpenViduClient) FindRecording(ctx context.Context, sessionID string) (*Recording, error) {
	var out struct {
		Items []Recording `json:"items"`
	}
	if err := c.do(ctx, "list_recordings", http.MethodGet, "/openvidu/api/recordings", nil, &out); err != nil {
		return nil, err
	}
	var matches []Recording
	for _, r := range out.Items {
		if r.SessionID == sessionID {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt > matches[j].CreatedAt })
	return &matches[0], nil
}

func (c *OpenViduClient) DeleteRecording(ctx context.Context, recordingID string) error {
	if strings.TrimSpace(recordingID) == "" {
		return nil
	}
	return c.do(ctx, "delete_recording", http.MethodDelete, "/openvidu/api/recordings/"+url.PathEscape(recordingID), nil, nil)
}

func (c *OpenViduClient) CloseSession(ctx context.Context, sessionID string) error {
	err := c.do(ctx, "close_session", http.MethodDelete, "/openvidu/api/sessions/"+url.PathEscape(sessionID), nil, nil)
	if StatusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *OpenViduClient) ForceDisconnect(ctx context.Context, sessionID, connectionID string) error {
	if strings.TrimSpace(connectionID) == "" {
		return nil
	}
	path := "/openvidu/api/sessions/" + url.PathEscape(sessionID) + "/connection/" + url.PathEscape(connectionID)
	err := c.do(ctx, "force_disconnect", http.MethodDelete, path, nil, nil)
	if StatusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// OpenRecording streams the composed mp4 of a finished recording. The
// caller closes the reader. The size is -1 when the server does not say.
func (c *OpenViduClient) OpenRecording(ctx context.Context, recordingID string) (io.ReadCloser, int64, error) {
	id := url.PathEscape(recordingID)
	req, err := c.newRequest(ctx, http.MethodGet, "/openvidu/recordings/"+id+"/"+id+".mp4", nil)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveProviderCall("download_recording", "0", start)
		return nil, 0, &ProviderError{Op: "download_recording", Err: err}
	}
	observability.ObserveProviderCall("download_recording", strconv.Itoa(resp.StatusCode), start)
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, 0, responseError("download_recording", resp)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *OpenViduClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(basicAuthUser, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *OpenViduClient) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := observability.TraceProviderCall(ctx, op, path)
	defer span.End()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveProviderCall(op, "0", start)
		span.RecordError(err)
		return &ProviderError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	observability.ObserveProviderCall(op, strconv.Itoa(resp.StatusCode), start)

	if !isHTTPSuccessStatus(resp.StatusCode) {
		return responseError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func responseError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
