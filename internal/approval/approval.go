// Package approval implements the ApprovalEngine external interface:
// a per-call authorization decision from a configurable
// allow/deny-list policy.
package approval

import (
	"context"
	"strings"

	"github.com/obra/lace-sub007/internal/models"
)

// Decision is the result of requesting approval for one ToolCall.
type Decision struct {
	Approved     bool
	Reason       string
	ModifiedCall *models.ToolCall
}

// Engine is the capability interface the ToolExecutor consumes. The
// interactive-prompt policy belongs to the excluded UI layer; only
// programmatic policies are implemented here.
type Engine interface {
	RequestApproval(ctx context.Context, toolCall models.ToolCall, sessionID string) (Decision, error)
}

// ListPolicy is the one concrete Engine shipped: an allowlist/denylist
// policy with a default decision for anything unmatched.
type ListPolicy struct {
	// Allowlist and Denylist entries support exact match, "prefix*",
	// "*suffix", and the literal wildcard "*".
	Allowlist []string
	Denylist  []string

	// DefaultApprove is the decision when no list entry matches.
	DefaultApprove bool
}

// NewListPolicy builds a ListPolicy; defaultApprove is taken as given
// and decides tool names that match neither list.
func NewListPolicy(allowlist, denylist []string, defaultApprove bool) *ListPolicy {
	return &ListPolicy{Allowlist: allowlist, Denylist: denylist, DefaultApprove: defaultApprove}
}

// RequestApproval evaluates toolCall.Name against the policy's lists,
// denylist taking priority over allowlist: an explicit deny must never
// be overridden by a broader allow rule.
func (p *ListPolicy) RequestApproval(ctx context.Context, toolCall models.ToolCall, sessionID string) (Decision, error) {
	if matchesAny(p.Denylist, toolCall.Name) {
		return Decision{Approved: false, Reason: "tool in denylist"}, nil
	}
	if matchesAny(p.Allowlist, toolCall.Name) {
		return Decision{Approved: true, Reason: "tool in allowlist"}, nil
	}
	if p.DefaultApprove {
		return Decision{Approved: true, Reason: "default policy"}, nil
	}
	return Decision{Approved: false, Reason: "default policy"}, nil
}

var _ Engine = (*ListPolicy)(nil)

// matchesAny reports whether name matches any pattern in patterns:
// exact match, "*" (all), "prefix*", and "*suffix".
func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if pattern == name {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(name, pattern[:len(pattern)-1]) {
			return true
		}
		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(name, pattern[1:]) {
			return true
		}
	}
	return false
}
