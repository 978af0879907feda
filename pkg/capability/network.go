package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Network is the HTTP façade. All traffic is proxied through the host so
// the plugin never opens sockets itself.
type Network struct {
	gate *gate
}

// FetchRequest describes an outbound HTTP request.
type FetchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int64             `json:"timeoutMs,omitempty"`
}

// FetchResponse is the host's answer to a Fetch.
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// Fetch performs an HTTP request through the host.
func (n *Network) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if req.Method == "" {
		req.Method = "GET"
	}
	res, err := n.gate.call(ctx, "network", manifest.PermissionNetwork, "network.fetch", host.Args{
		"method":    req.Method,
		"url":       req.URL,
		"headers":   req.Headers,
		"body":      req.Body,
		"timeoutMs": req.Timeout,
	})
	if err != nil {
		return nil, err
	}

	status, err := resultInt(res, "status")
	if err != nil {
		return nil, err
	}
	resp := &FetchResponse{
		Status: status,
		Body:   resultString(res, "body"),
	}
	if headers, ok := res["headers"].(map[string]string); ok {
		resp.Headers = headers
	}
	return resp, nil
}

// Download fetches a URL into the plugin's data directory and returns the
// stored path.
func (n *Network) Download(ctx context.Context, url, filename string) (string, error) {
	res, err := n.gate.call(ctx, "network", manifest.PermissionNetwork, "network.download", host.Args{
		"url":      url,
		"filename": filename,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "path"), nil
}
