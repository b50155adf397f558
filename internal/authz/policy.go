package authz

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// PolicyEngine compiles and evaluates CEL attribute policies. Each
// policy is a single boolean expression keyed by name.
//
// Expressions see these variables:
//
//	subject  map with id, type, roles, permissions, scopes
//	request  map of request attributes (client IP, headers)
//	resource request path
//	action   HTTP method
//	now      evaluation timestamp
//
// and the function ip_in_range(ip, cidr).
type PolicyEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewPolicyEngine creates an engine with an empty policy set.
func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("now", cel.TimestampType),
		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRange),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PolicyEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile compiles the expression and registers it under name,
// replacing any previous policy of that name.
func (e *PolicyEngine) Compile(name, expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy %q: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("policy %q: expression must evaluate to bool, got %s", name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("policy %q: %w", name, err)
	}

	e.mu.Lock()
	e.programs[name] = program
	e.mu.Unlock()
	return nil
}

// Replace swaps the whole policy set atomically. Used on configuration
// reload; a compile error leaves the current set untouched.
func (e *PolicyEngine) Replace(expressions map[string]string) error {
	programs := make(map[string]cel.Program, len(expressions))
	for name, expression := range expressions {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("policy %q: %w", name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("policy %q: expression must evaluate to bool, got %s", name, ast.OutputType())
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
		programs[name] = program
	}

	e.mu.Lock()
	e.programs = programs
	e.mu.Unlock()
	return nil
}

// Evaluate runs the named policy over the request. An unknown policy
// name is an error so that misconfiguration denies rather than admits.
func (e *PolicyEngine) Evaluate(name string, req *Request) (bool, error) {
	e.mu.RLock()
	program, ok := e.programs[name]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown policy %q", name)
	}

	result, _, err := program.Eval(map[string]interface{}{
		"subject":  subjectAttrs(req),
		"request":  req.Attributes,
		"resource": req.Resource,
		"action":   req.Action,
		"now":      time.Now(),
	})
	if err != nil {
		return false, err
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy %q: non-boolean result", name)
	}
	return allowed, nil
}

// Len returns the number of registered policies.
func (e *PolicyEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

func subjectAttrs(req *Request) map[string]interface{} {
	identity := req.Identity
	if identity == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":          identity.Subject,
		"type":        string(identity.Type),
		"roles":       identity.Roles,
		"permissions": identity.Permissions,
		"scopes":      identity.Scopes,
	}
}

// ipInRange checks if an IP is inside a CIDR range (CEL binding).
func ipInRange(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}

	parsed := net.ParseIP(ipStr)
	if parsed == nil {
		return types.False
	}
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}

	if network.Contains(parsed) {
		return types.True
	}
	return types.False
}
