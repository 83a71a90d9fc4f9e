package firewall

import "fmt"

// BadRequestError marks a malformed CONNECT target, request URI, or Accept
// header: the ingress layer responds 400 and closes the connection.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.Reason) }

// BlockedByPolicyError marks a firewall rule's block decision: the ingress
// layer responds 403 with the generated block body and the notifier emits
// a BlockedEvent. Carried alongside the [rule.Verdict] that produced it,
// not returned from Wrap itself (block() handles this case inline), but
// kept here so other layers can classify an error as policy-driven.
type BlockedByPolicyError struct {
	Product    string
	Identifier string
}

func (e *BlockedByPolicyError) Error() string {
	return fmt.Sprintf("blocked by policy: %s/%s", e.Product, e.Identifier)
}

// UpstreamTransportError marks a connect/TLS/read failure reaching the
// origin: the ingress layer responds 502 and does not retry — retry is the
// client's responsibility per spec.
type UpstreamTransportError struct {
	Host string
	Err  error
}

func (e *UpstreamTransportError) Error() string {
	return fmt.Sprintf("upstream transport to %s: %v", e.Host, e.Err)
}

func (e *UpstreamTransportError) Unwrap() error { return e.Err }

// ParentProxyError marks a parent-proxy connection refusal: the ingress
// layer responds 502.
type ParentProxyError struct {
	ProxyURL string
	Err      error
}

func (e *ParentProxyError) Error() string {
	return fmt.Sprintf("parent proxy %s: %v", e.ProxyURL, e.Err)
}

func (e *ParentProxyError) Unwrap() error { return e.Err }

// ConfigLoadError marks a malformed malware list, oversized config.json,
// or unreadable storage blob. Never fatal: the caller logs it and falls
// back to an empty default.
type ConfigLoadError struct {
	Source string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("config load from %s: %v", e.Source, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// FatalError marks a startup failure with no recovery: a bind failure,
// cert-issuer initialization failure, or unrecoverable pool construction.
// cmd/safechain-proxy exits nonzero on this.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal during %s: %v", e.Stage, e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }
