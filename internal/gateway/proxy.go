package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/joao-fontenele/giftshop/internal/auth"
)

// forwardedHeaders are copied from the client request as-is. Identity
// headers are never among them; they are set from the verified token only.
var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"X-Razorpay-Signature",
	"X-Razorpay-Event-Id",
	"X-Request-Id",
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ForwardRequest replays r against path on the upstream. When id is non-nil
// its identity headers are attached.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string, id *auth.Identity) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength

	for _, name := range forwardedHeaders {
		if value := r.Header.Get(name); value != "" {
			req.Header.Set(name, value)
		}
	}

	if id != nil {
		req.Header.Set(auth.HeaderUserID, id.UserID)
		req.Header.Set(auth.HeaderUserEmail, id.Email)
		req.Header.Set(auth.HeaderUserRole, id.Role)
	}

	return p.client.Do(req)
}
