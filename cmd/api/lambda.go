package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"eventbell/internal/core"
)

// runLambda serves API Gateway HTTP API (payload v2) events with the router.
func runLambda(srv *core.Server, flush func(context.Context), logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.Start(newLambdaHandler(srv.Handler(), flush))
	return nil
}

// newLambdaHandler adapts h to API Gateway HTTP API events. A non-nil flush
// runs after each invocation, before the execution environment is frozen.
func newLambdaHandler(h http.Handler, flush func(context.Context)) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return func(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		req, err := toHTTPRequest(ctx, ev)
		if err != nil {
			return events.APIGatewayV2HTTPResponse{}, err
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if flush != nil {
			flush(ctx)
		}
		return toGatewayResponse(rec), nil
	}
}

func toHTTPRequest(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	body := ev.Body
	if ev.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding request body: %w", err)
		}
		body = string(raw)
	}

	path := ev.RawPath
	if path == "" {
		path = "/"
	}
	target := path
	if ev.RawQueryString != "" {
		target += "?" + ev.RawQueryString
	}

	req, err := http.NewRequestWithContext(ctx, ev.RequestContext.HTTP.Method, target, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range ev.Headers {
		req.Header.Set(k, v)
	}
	if len(ev.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(ev.Cookies, "; "))
	}
	req.RemoteAddr = ev.RequestContext.HTTP.SourceIP
	req.Host = ev.RequestContext.DomainName
	return req, nil
}

func toGatewayResponse(rec *httptest.ResponseRecorder) events.APIGatewayV2HTTPResponse {
	res := events.APIGatewayV2HTTPResponse{
		StatusCode:        rec.Code,
		Headers:           make(map[string]string, len(rec.Header())),
		MultiValueHeaders: make(map[string][]string),
		Body:              rec.Body.String(),
	}
	for k, vs := range rec.Header() {
		if len(vs) == 1 {
			res.Headers[k] = vs[0]
			continue
		}
		res.MultiValueHeaders[k] = vs
	}
	return res
}
