package bulkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"casedesk/cases"
	"casedesk/offer"
	"casedesk/professional"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bulkapi: status %d: %s", e.Code, e.Message)
}

// Rejected reports whether the server refused the request on its merits, as
// opposed to failing or refusing the caller's credentials.
func (e *StatusError) Rejected() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusUnauthorized
}

// Unwrap maps 404 onto cases.ErrNotFound so callers can branch on it.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return cases.ErrNotFound
	}
	return nil
}

// Client talks to the bulk API on behalf of one token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of the client using token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("bulkapi: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("bulkapi: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bulkapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorDTO
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bulkapi: decode %s %s: %w", method, path, err)
	}
	return nil
}

func professionalPath(id int64, suffix string) string {
	return "/api/professionals/" + strconv.FormatInt(id, 10) + suffix
}

func casePath(id int64, suffix string) string {
	return "/api/cases/" + strconv.FormatInt(id, 10) + suffix
}

func toCases(list List[CaseDTO]) []cases.Case {
	out := make([]cases.Case, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, d.Case())
	}
	return out
}

func (c *Client) ListAssigned(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	var list List[CaseDTO]
	if err := c.do(ctx, http.MethodGet, professionalPath(professionalID, "/cases"), nil, &list); err != nil {
		return nil, err
	}
	return toCases(list), nil
}

func (c *Client) ListRecommended(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	var list List[CaseDTO]
	if err := c.do(ctx, http.MethodGet, professionalPath(professionalID, "/recommended"), nil, &list); err != nil {
		return nil, err
	}
	return toCases(list), nil
}

func (c *Client) ListOffers(ctx context.Context, professionalID int64) ([]offer.Offer, error) {
	var list List[OfferDTO]
	if err := c.do(ctx, http.MethodGet, professionalPath(professionalID, "/offers"), nil, &list); err != nil {
		return nil, err
	}
	out := make([]offer.Offer, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, d.Offer())
	}
	return out, nil
}

func (c *Client) GetCase(ctx context.Context, caseID int64) (cases.Detail, error) {
	var d DetailDTO
	if err := c.do(ctx, http.MethodGet, casePath(caseID, ""), nil, &d); err != nil {
		return cases.Detail{}, err
	}
	return d.Detail(), nil
}

func (c *Client) GetProfile(ctx context.Context, professionalID int64) (professional.Profile, error) {
	var p ProfileDTO
	if err := c.do(ctx, http.MethodGet, professionalPath(professionalID, ""), nil, &p); err != nil {
		return professional.Profile{}, err
	}
	return p.Profile(), nil
}

func (c *Client) SubmitOffer(ctx context.Context, caseID, feeCents int64) (offer.Offer, error) {
	var d OfferDTO
	if err := c.do(ctx, http.MethodPost, casePath(caseID, "/offers"), SubmitOfferRequest{FeeCents: feeCents}, &d); err != nil {
		return offer.Offer{}, err
	}
	return d.Offer(), nil
}

func (c *Client) WithdrawOffer(ctx context.Context, offerID int64) (offer.Offer, error) {
	var d OfferDTO
	path := "/api/offers/" + strconv.FormatInt(offerID, 10) + "/withdraw"
	if err := c.do(ctx, http.MethodPost, path, nil, &d); err != nil {
		return offer.Offer{}, err
	}
	return d.Offer(), nil
}

func (c *Client) RespondToRequest(ctx context.Context, caseID int64, accept bool) error {
	return c.do(ctx, http.MethodPost, casePath(caseID, "/respond"), RespondRequest{Accept: accept}, nil)
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &out); err != nil {
		return LoginResponse{}, err
	}
	return out, nil
}
