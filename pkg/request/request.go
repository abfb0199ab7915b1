// Package request describes logical MediaWiki Action API calls.
//
// A Request is immutable once built. Derivations used by the executor and the
// continuation engine (token substitution, merged continuation values) always
// return a new Request.
package request

import (
	"fmt"
	"strings"
)

// Method is the transport hint of a request.
type Method int

const (
	// MethodRead marks a side-effect free request that may be sent as GET.
	MethodRead Method = iota

	// MethodWrite marks a request that must be POSTed.
	MethodWrite
)

func (m Method) String() string {
	if m == MethodWrite {
		return "write"
	}
	return "read"
}

// TokenKind names the authorization token a request needs.
type TokenKind string

const (
	TokenNone          TokenKind = ""
	TokenLogin         TokenKind = "login"
	TokenCSRF          TokenKind = "csrf"
	TokenPatrol        TokenKind = "patrol"
	TokenRollback      TokenKind = "rollback"
	TokenWatch         TokenKind = "watch"
	TokenUserRights    TokenKind = "userrights"
	TokenCreateAccount TokenKind = "createaccount"
)

// ParamFor returns the parameter carrying the token on action. Login
// tokens travel as lgtoken on action=login and as logintoken on
// action=clientlogin.
func (k TokenKind) ParamFor(action string) string {
	switch k {
	case TokenLogin:
		if action == "login" {
			return "lgtoken"
		}
		return "logintoken"
	case TokenCreateAccount:
		return "createtoken"
	default:
		return "token"
	}
}

// ResponseField returns the field of query.tokens holding this kind.
func (k TokenKind) ResponseField() string {
	return string(k) + "token"
}

// Request is a logical API call.
type Request struct {
	action string
	params *Params
	method Method
	token  TokenKind
}

// Action returns the action name (query, edit, upload, login, ...).
func (r *Request) Action() string { return r.action }

// Method returns the transport hint.
func (r *Request) Method() Method { return r.method }

// Token returns the token kind the request requires.
func (r *Request) Token() TokenKind { return r.token }

// TokenParam returns the parameter the token is sent in, or "" when the
// request needs none.
func (r *Request) TokenParam() string {
	if r.token == TokenNone {
		return ""
	}
	return r.token.ParamFor(r.action)
}

// Params returns a copy of the parameter mapping, without the action.
func (r *Request) Params() *Params { return r.params.Clone() }

// Get returns a single parameter value.
func (r *Request) Get(name string) (Value, bool) { return r.params.Get(name) }

// HasFile reports whether the request carries a file payload.
func (r *Request) HasFile() bool { return r.params.HasFile() }

// WithParam returns a copy of r with name set to v.
func (r *Request) WithParam(name string, v Value) *Request {
	cp := *r
	cp.params = r.params.Clone()
	cp.params.Set(name, v)
	return &cp
}

// WithParams returns a copy of r with every entry of p applied on top.
func (r *Request) WithParams(p *Params) *Request {
	cp := *r
	cp.params = r.params.Merge(p)
	return &cp
}

// String renders the request for logs. Token and password values are masked.
func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString("action=")
	sb.WriteString(r.action)
	for _, k := range r.params.Keys() {
		v, _ := r.params.Get(k)
		text := v.Text()
		if isSecret(k) {
			text = "***"
		} else if len(text) > 64 {
			text = text[:64] + "..."
		}
		fmt.Fprintf(&sb, " %s=%s", k, text)
	}
	return sb.String()
}

func isSecret(name string) bool {
	switch name {
	case "token", "lgtoken", "lgpassword", "password", "logintoken", "createtoken":
		return true
	}
	return false
}

// Bundle is a typed parameter bundle for one API action.
type Bundle interface {
	Action() string
	AppendParams(p *Params)
}

// Builder assembles a Request.
type Builder struct {
	req Request
}

// NewBuilder starts a request for action.
func NewBuilder(action string) *Builder {
	return &Builder{req: Request{action: action, params: &Params{}}}
}

// FromBundle starts a request from a typed bundle.
func FromBundle(b Bundle) *Builder {
	bld := NewBuilder(b.Action())
	b.AppendParams(bld.req.params)
	return bld
}

// Set stores a parameter.
func (b *Builder) Set(name string, v Value) *Builder {
	b.req.params.Set(name, v)
	return b
}

// SetString stores a text parameter.
func (b *Builder) SetString(name, s string) *Builder {
	b.req.params.SetString(name, s)
	return b
}

// Write marks the request as a write.
func (b *Builder) Write() *Builder {
	b.req.method = MethodWrite
	return b
}

// NeedsToken declares the token kind the executor must attach.
func (b *Builder) NeedsToken(kind TokenKind) *Builder {
	b.req.token = kind
	return b
}

// Build returns the immutable request. The builder may keep being used;
// later changes do not affect requests already built.
func (b *Builder) Build() *Request {
	cp := b.req
	cp.params = b.req.params.Clone()
	return &cp
}
