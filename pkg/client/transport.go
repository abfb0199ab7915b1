package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/Sternrassler/mediawiki-client/pkg/request"
)

// wireParams returns the full parameter list sent for req: action first,
// the caller's parameters, then the fixed format parameters. The token
// parameter goes last so a truncated POST body fails the token check.
func (c *Client) wireParams(req *request.Request) *request.Params {
	p := request.NewParams("action", req.Action()).Merge(req.Params())
	p.SetString("format", "json")
	p.SetString("formatversion", "2")
	if _, ok := p.Get("maxlag"); !ok && c.config.MaxLag > 0 {
		p.Set("maxlag", request.Int(c.config.MaxLag))
	}
	if name := req.TokenParam(); name != "" {
		if v, ok := p.Get(name); ok {
			p.Delete(name)
			p.Set(name, v)
		}
	}
	return p
}

// encodeOrdered form-encodes p keeping parameter order. File values are skipped.
func encodeOrdered(p *request.Params) string {
	var sb strings.Builder
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		if v.Kind() == request.KindFile {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(v.Text()))
	}
	return sb.String()
}

// shapeOf reports the transport shape chosen for req.
func (c *Client) shapeOf(req *request.Request, p *request.Params, encoded string) string {
	switch {
	case p.HasFile():
		return "multipart"
	case req.Method() == request.MethodRead && len(encoded) < c.config.GetSizeLimit:
		return http.MethodGet
	default:
		return http.MethodPost
	}
}

// newHTTPRequest builds the HTTP request for one attempt. The body is built
// fresh each time so retries can resend it.
func (c *Client) newHTTPRequest(ctx context.Context, req *request.Request) (*http.Request, error) {
	p := c.wireParams(req)
	encoded := encodeOrdered(p)

	var (
		httpReq *http.Request
		err     error
	)
	switch c.shapeOf(req, p, encoded) {
	case http.MethodGet:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"?"+encoded, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
	case http.MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, strings.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		body, contentType, err := encodeMultipart(p)
		if err != nil {
			return nil, err
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes every parameter as a form part, in order.
func encodeMultipart(p *request.Params) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		if f := v.File(); f != nil {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
				quoteEscaper.Replace(k), quoteEscaper.Replace(f.Name)))
			ct := f.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			h.Set("Content-Type", ct)
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, "", fmt.Errorf("create file part %s: %w", k, err)
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, "", fmt.Errorf("write file part %s: %w", k, err)
			}
			continue
		}
		if err := w.WriteField(k, v.Text()); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
