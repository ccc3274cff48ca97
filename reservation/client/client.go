// Package client chama a API HTTP de reservas.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/domain"
)

// ErrTransport indica que a chamada não obteve resposta do servidor.
// O desfecho no servidor é desconhecido: repetir pode gerar reserva duplicada.
var ErrTransport = errors.New("transport failure")

var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxConnsPerHost:     100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	},
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// CallerKey, se definido, vai no header X-Api-Key (usado pelo rate limit).
	CallerKey string
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: defaultHTTPClient}
}

// APIError é uma resposta não-2xx que não é um desfecho de reserva.
type APIError struct {
	Status  int
	Reason  domain.Reason
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api error %d %s", e.Status, e.Reason)
}

var sentinelByReason = map[domain.Reason]error{
	domain.ReasonNotFound:          domain.ErrNotFound,
	domain.ReasonNotOpen:           domain.ErrNotOpen,
	domain.ReasonFull:              domain.ErrFull,
	domain.ReasonContention:        domain.ErrContention,
	domain.ReasonNotReserved:       domain.ErrNotReserved,
	domain.ReasonInvalidTransition: domain.ErrInvalidTransition,
	domain.ReasonCapacityTooLow:    domain.ErrCapacityBelowReserved,
	domain.ReasonAlreadyExists:     domain.ErrAlreadyExists,
	domain.ReasonInvalid:           domain.ErrInvalidRecord,
	domain.ReasonUnavailable:       domain.ErrStoreUnavailable,
}

// Unwrap permite errors.Is(err, domain.ErrNotFound) etc.
func (e *APIError) Unwrap() error { return sentinelByReason[e.Reason] }

// Reserve devolve rejeições de negócio como Result{OK:false}; error só para
// falha de transporte (ErrTransport) ou resposta inesperada.
func (c *Client) Reserve(ctx context.Context, id string) (domain.Result, error) {
	return c.mutation(ctx, id, "reserve")
}

func (c *Client) Release(ctx context.Context, id string) (domain.Result, error) {
	return c.mutation(ctx, id, "release")
}

func (c *Client) mutation(ctx context.Context, id, op string) (domain.Result, error) {
	var out reservation.ResultResponse
	status, err := c.do(ctx, http.MethodPost, c.path(id, op), nil, &out)
	if err != nil {
		return domain.Result{}, err
	}
	if status == http.StatusOK || isOutcome(out.Reason) {
		return out.Result(), nil
	}
	return domain.Result{}, &APIError{Status: status, Reason: out.Reason, Message: out.Error}
}

func isOutcome(r domain.Reason) bool {
	switch r {
	case domain.ReasonNotFound, domain.ReasonNotOpen, domain.ReasonFull,
		domain.ReasonContention, domain.ReasonNotReserved:
		return true
	}
	return false
}

func (c *Client) Get(ctx context.Context, id string) (domain.Reservable, error) {
	return c.reservable(ctx, http.MethodGet, c.path(id, ""), nil)
}

func (c *Client) Create(ctx context.Context, req reservation.CreateRequest) (domain.Reservable, error) {
	return c.reservable(ctx, http.MethodPost, "/reservables", req)
}

func (c *Client) Open(ctx context.Context, id string) (domain.Reservable, error) {
	return c.reservable(ctx, http.MethodPost, c.path(id, "open"), nil)
}

func (c *Client) Close(ctx context.Context, id string) (domain.Reservable, error) {
	return c.reservable(ctx, http.MethodPost, c.path(id, "close"), nil)
}

func (c *Client) SetCapacity(ctx context.Context, id string, capacity int) (domain.Reservable, error) {
	return c.reservable(ctx, http.MethodPatch, c.path(id, ""), reservation.CapacityRequest{Capacity: capacity})
}

func (c *Client) reservable(ctx context.Context, method, path string, body any) (domain.Reservable, error) {
	var raw json.RawMessage
	status, err := c.do(ctx, method, path, body, &raw)
	if err != nil {
		return domain.Reservable{}, err
	}
	if status/100 != 2 {
		var e reservation.ResultResponse
		_ = json.Unmarshal(raw, &e)
		return domain.Reservable{}, &APIError{Status: status, Reason: e.Reason, Message: e.Error}
	}

	var rr reservation.ReservableResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return domain.Reservable{}, fmt.Errorf("decode reservable: %w", err)
	}
	return domain.Reservable{
		ID:            rr.ID,
		Capacity:      rr.Capacity,
		ReservedCount: rr.ReservedCount,
		Status:        rr.Status,
	}, nil
}

func (c *Client) path(id, op string) string {
	p := "/reservables/" + url.PathEscape(id)
	if op != "" {
		p += "/" + op
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.CallerKey != "" {
		req.Header.Set("X-Api-Key", c.CallerKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = defaultHTTPClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode %s %s: %v", ErrTransport, method, path, err)
	}
	return resp.StatusCode, nil
}
