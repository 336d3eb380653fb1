package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// RemoteCheckInAPI is the authoritative server as seen by devices. Errors
// are checkin sentinels: business errors (errors.Cause is one of the
// taxonomy's state, capacity, temporal or authorization errors) and transport
// errors (checkin.ErrNetwork, checkin.ErrTimeout, checkin.ErrServer).
type RemoteCheckInAPI interface {
	CreateRequest(ctx context.Context, request CreateRequestTransport) (RequestTransport, error)
	GetRequest(ctx context.Context, requestId string) (RequestTransport, error)
	Cancel(ctx context.Context, requestId string) (RequestTransport, error)
	Approve(ctx context.Context, token string, decision DecisionTransport) (ApprovalTransport, error)
	Reject(ctx context.Context, token string, decision DecisionTransport) (RequestTransport, error)
	CheckIn(ctx context.Context, checkIn CheckInTransport) (ApprovalTransport, error)
	CheckOut(ctx context.Context, childId string, checkOut CheckOutTransport) (CheckOutResultTransport, error)
	GetChild(ctx context.Context, childId string) (ChildStatusTransport, error)
	ListServices(ctx context.Context) ([]ServiceTransport, error)
}

type DefaultClient struct {
	protocol, hostname string
	token              string
	httpClient         *http.Client
}

// NewDefaultClient builds a client for baseUrl (e.g. https://checkin.example.org).
// Every call carries token as a bearer credential.
func NewDefaultClient(baseUrl, token string) (*DefaultClient, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse api url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("api url %q must have a scheme and a host", baseUrl)
	}
	return &DefaultClient{
		protocol:   u.Scheme,
		hostname:   u.Host,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *DefaultClient) CreateRequest(ctx context.Context, request CreateRequestTransport) (RequestTransport, error) {
	created := RequestTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/check-in-requests", request, &created)
	return created, err
}

func (c *DefaultClient) GetRequest(ctx context.Context, requestId string) (RequestTransport, error) {
	found := RequestTransport{}
	err := c.do(ctx, http.MethodGet, "/api/v1/check-in-requests/"+url.PathEscape(requestId), nil, &found)
	return found, err
}

func (c *DefaultClient) Cancel(ctx context.Context, requestId string) (RequestTransport, error) {
	cancelled := RequestTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/check-in-requests/"+url.PathEscape(requestId)+"/cancel", nil, &cancelled)
	return cancelled, err
}

func (c *DefaultClient) Approve(ctx context.Context, token string, decision DecisionTransport) (ApprovalTransport, error) {
	approval := ApprovalTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/tokens/"+url.PathEscape(token)+"/approve", decision, &approval)
	return approval, err
}

func (c *DefaultClient) Reject(ctx context.Context, token string, decision DecisionTransport) (RequestTransport, error) {
	rejected := RequestTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/tokens/"+url.PathEscape(token)+"/reject", decision, &rejected)
	return rejected, err
}

func (c *DefaultClient) CheckIn(ctx context.Context, checkIn CheckInTransport) (ApprovalTransport, error) {
	approval := ApprovalTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/check-ins", checkIn, &approval)
	return approval, err
}

func (c *DefaultClient) CheckOut(ctx context.Context, childId string, checkOut CheckOutTransport) (CheckOutResultTransport, error) {
	result := CheckOutResultTransport{}
	err := c.do(ctx, http.MethodPost, "/api/v1/children/"+url.PathEscape(childId)+"/check-out", checkOut, &result)
	return result, err
}

func (c *DefaultClient) GetChild(ctx context.Context, childId string) (ChildStatusTransport, error) {
	status := ChildStatusTransport{}
	err := c.do(ctx, http.MethodGet, "/api/v1/children/"+url.PathEscape(childId), nil, &status)
	return status, err
}

func (c *DefaultClient) ListServices(ctx context.Context) ([]ServiceTransport, error) {
	services := []ServiceTransport{}
	err := c.do(ctx, http.MethodGet, "/api/v1/services", nil, &services)
	return services, err
}

func (c *DefaultClient) do(ctx context.Context, method, path string, body, into interface{}) error {
	var reader io.Reader
	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to json encode the request")
		}
		reader = bytes.NewReader(requestBody)
	}

	requestUrl := url.URL{Scheme: c.protocol, Host: c.hostname, Path: path}
	req, err := http.NewRequest(method, requestUrl.String(), reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.performRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return errors.Wrap(checkin.ErrServer, "failed to decode json response: "+err.Error())
	}
	return nil
}

func (c *DefaultClient) performRequest(ctx context.Context, r *http.Request) (*http.Response, error) {
	r = r.WithContext(ctx)
	resp, err := c.httpClient.Do(r)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	b, _ := ioutil.ReadAll(resp.Body)
	return nil, statusError(resp.StatusCode, b)
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(checkin.ErrTimeout, err.Error())
	}
	if netErr, ok := errors.Cause(err).(net.Error); ok && netErr.Timeout() {
		return errors.Wrap(checkin.ErrTimeout, err.Error())
	}
	if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
		return errors.Wrap(checkin.ErrTimeout, err.Error())
	}
	return errors.Wrap(checkin.ErrNetwork, err.Error())
}

// statusError maps an error response to its sentinel using the `code` field
// of the body, falling back on the status code.
func statusError(statusCode int, body []byte) error {
	if statusCode >= 500 {
		return errors.Wrapf(checkin.ErrServer, "server responded with status code %v, body: %s", statusCode, body)
	}

	errorTransport := ErrorTransport{}
	_ = json.Unmarshal(body, &errorTransport)
	if sentinel, ok := checkin.FromCode(errorTransport.Code); ok {
		return errors.Wrap(sentinel, errorTransport.Error)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrapf(checkin.ErrUnauthorized, "server responded with status code %v", statusCode)
	case http.StatusNotFound:
		return errors.Wrapf(checkin.ErrNotFound, "server responded with status code %v", statusCode)
	case http.StatusGone:
		return errors.Wrapf(checkin.ErrExpired, "server responded with status code %v", statusCode)
	}
	return errors.Wrapf(checkin.ErrBadRequest, "server responded with status code %v, body: %s", statusCode, body)
}
