package payment

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// HTTPGateway talks to the payment gateway's REST API.
type HTTPGateway struct {
	client *resty.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{client: resty.New().SetBaseURL(baseURL)}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var out ChargeResult
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetResult(&out).
		Post("/charges")
	if err != nil {
		return ChargeResult{}, err
	}
	if resp.StatusCode() == http.StatusGatewayTimeout {
		return ChargeResult{Status: ChargeTimeout}, nil
	}
	if resp.IsError() {
		return ChargeResult{}, &GatewayError{Status: resp.StatusCode()}
	}
	return out, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, idempotencyKey string) (ChargeResult, error) {
	var out ChargeResult
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/charges/" + idempotencyKey)
	if err != nil {
		return ChargeResult{}, err
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return ChargeResult{}, ErrChargeNotFound
	case http.StatusNotImplemented:
		return ChargeResult{}, ErrVerifyUnsupported
	}
	if resp.IsError() {
		return ChargeResult{}, &GatewayError{Status: resp.StatusCode()}
	}
	return out, nil
}

type GatewayError struct{ Status int }

func (e *GatewayError) Error() string {
	return http.StatusText(e.Status) + " from payment gateway"
}
