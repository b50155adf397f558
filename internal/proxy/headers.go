package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gatehouseio/gatehouse/internal/config"
)

// TemplateData is the data exposed to header value templates.
type TemplateData struct {
	ClientIP string
	Host     string
	Method   string
	Path     string
	Scheme   string
}

// HeaderRewriter applies configured header rules to an outbound
// request: templated set rules and removals.
type HeaderRewriter struct {
	set    []headerRule
	remove []string
}

type headerRule struct {
	name string
	tmpl *template.Template
}

var headerCaser = cases.Title(language.Und)

// canonicalHeaderName normalizes a configured header name to its
// canonical form, e.g. "x-tenant-id" to "X-Tenant-Id".
func canonicalHeaderName(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		parts[i] = headerCaser.String(p)
	}
	return strings.Join(parts, "-")
}

// NewHeaderRewriter compiles the rules. Template parse errors are
// configuration errors and fail construction.
func NewHeaderRewriter(rules config.HeaderRules) (*HeaderRewriter, error) {
	hr := &HeaderRewriter{}

	for name, value := range rules.Set {
		tmpl, err := template.New(name).Parse(value)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", name, err)
		}
		hr.set = append(hr.set, headerRule{name: canonicalHeaderName(name), tmpl: tmpl})
	}

	for _, name := range rules.Remove {
		hr.remove = append(hr.remove, canonicalHeaderName(name))
	}

	return hr, nil
}

// Empty reports whether the rewriter has no rules.
func (hr *HeaderRewriter) Empty() bool {
	return hr == nil || (len(hr.set) == 0 && len(hr.remove) == 0)
}

// Apply executes the rules against the outbound request.
func (hr *HeaderRewriter) Apply(out *http.Request, data TemplateData) error {
	if hr == nil {
		return nil
	}

	for _, name := range hr.remove {
		out.Header.Del(name)
	}

	for _, rule := range hr.set {
		var b strings.Builder
		if err := rule.tmpl.Execute(&b, data); err != nil {
			return fmt.Errorf("header %q: %w", rule.name, err)
		}
		out.Header.Set(rule.name, b.String())
	}

	return nil
}

// templateData builds template data from the inbound request.
func templateData(r *http.Request) TemplateData {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return TemplateData{
		ClientIP: clientIP,
		Host:     r.Host,
		Method:   r.Method,
		Path:     r.URL.Path,
		Scheme:   scheme,
	}
}
