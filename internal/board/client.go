// Package board talks to the remote paint board over HTTP: one request per
// pixel, plus full snapshot downloads for the synchronizer.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dyluth/daub/internal/config"
	"github.com/dyluth/daub/internal/credential"
	"github.com/dyluth/daub/internal/errkind"
	"github.com/dyluth/daub/internal/target"
)

// maxBody caps how much of a paint response is read for classification.
const maxBody = 64 << 10

// Outcome classifies one paint attempt.
type Outcome int

const (
	Success Outcome = iota
	CredentialInvalid
	Rejected
	Transport
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case CredentialInvalid:
		return "credential_invalid"
	case Rejected:
		return "rejected"
	case Transport:
		return "transport"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Result is the classified response to a paint request.
type Result struct {
	Outcome    Outcome
	HTTPStatus int   // 0 when no response arrived
	Code       int   // status field from the body, 0 when absent
	Err        error // nil on Success
}

// Client issues paint and snapshot requests against one board.
type Client struct {
	base     string
	authMode string
	http     *http.Client
}

// NewClient builds a client for cfg.BoardAddr. A nil httpClient gets one
// with cfg.Timing.RequestTimeout as its timeout.
func NewClient(cfg *config.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timing.RequestTimeout
		if timeout == 0 {
			timeout = config.DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	mode := cfg.AuthMode
	if mode == "" {
		mode = config.AuthCookie
	}
	return &Client{base: cfg.BoardAddr, authMode: mode, http: httpClient}
}

// paintResponse is the JSON body of a paint reply.
type paintResponse struct {
	Status *int   `json:"status"`
	Data   string `json:"data,omitempty"`
}

// Paint asks the board to set e.Pos to e.Color using cred.
func (c *Client) Paint(ctx context.Context, e target.Entry, cred *credential.Credential) Result {
	const op = "paint"

	form := url.Values{}
	form.Set("x", strconv.Itoa(e.Pos.X))
	form.Set("y", strconv.Itoa(e.Pos.Y))
	form.Set("color", strconv.Itoa(int(e.Color)))

	endpoint := c.base + "/paint"
	if c.authMode == config.AuthQuery {
		endpoint += "?" + url.Values{"token": {cred.Token}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return Result{Outcome: Transport, Err: errkind.New(errkind.Transport, op, err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.base)
	if c.authMode != config.AuthQuery {
		req.Header.Set("Cookie", cred.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: Transport, Err: errkind.New(errkind.Transport, op, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{Outcome: Transport, HTTPStatus: resp.StatusCode, Err: errkind.New(errkind.Transport, op, err)}
	}
	return Classify(resp.StatusCode, body)
}

// Classify maps an HTTP status and body to an Outcome. The body decides
// unless the HTTP status already rejects the credential: a 200 reply can
// still carry a failing status field. Success always needs a 2xx reply.
func Classify(httpStatus int, body []byte) Result {
	const op = "paint"
	res := Result{HTTPStatus: httpStatus}

	if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden {
		res.Outcome = CredentialInvalid
		res.Err = errkind.Errorf(errkind.CredentialInvalid, op, "board returned HTTP %d", httpStatus)
		return res
	}
	ok := httpStatus >= 200 && httpStatus < 300

	trimmed := bytes.TrimSpace(body)
	if bytes.Equal(trimmed, []byte("[]")) {
		if ok {
			res.Outcome = Success
			return res
		}
		res.Outcome = Rejected
		res.Err = errkind.Errorf(errkind.RequestRejected, op, "board returned HTTP %d", httpStatus)
		return res
	}

	var pr paintResponse
	if err := json.Unmarshal(trimmed, &pr); err != nil || pr.Status == nil {
		res.Outcome = Rejected
		res.Err = errkind.Errorf(errkind.RequestRejected, op, "board returned HTTP %d with unrecognised body %q", httpStatus, truncate(trimmed))
		return res
	}

	res.Code = *pr.Status
	switch res.Code {
	case http.StatusOK:
		if ok {
			res.Outcome = Success
			return res
		}
		res.Outcome = Rejected
		res.Err = errkind.Errorf(errkind.RequestRejected, op, "board returned HTTP %d", httpStatus)
	case http.StatusUnauthorized, http.StatusForbidden:
		res.Outcome = CredentialInvalid
		res.Err = errkind.Errorf(errkind.CredentialInvalid, op, "board reported status %d: %s", res.Code, pr.Data)
	default:
		res.Outcome = Rejected
		res.Err = errkind.Errorf(errkind.RequestRejected, op, "board reported status %d: %s", res.Code, pr.Data)
	}
	return res
}

func truncate(b []byte) string {
	if len(b) > 80 {
		return string(b[:80]) + "..."
	}
	return string(b)
}

// FetchSnapshot downloads the raw board text.
func (c *Client) FetchSnapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/board", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	req.Header.Set("Referer", c.base)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "fetch snapshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Errorf(errkind.RequestRejected, "fetch snapshot", "board returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "fetch snapshot", fmt.Errorf("read after %v: %w", time.Since(start), err))
	}
	return body, nil
}
