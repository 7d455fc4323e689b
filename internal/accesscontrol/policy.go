package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AccessDeniedError is returned by Enforce when a policy does not hold.
// The reason is safe to surface to the caller; it never leaks data the
// caller cannot see.
type AccessDeniedError struct {
	Action string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("access denied: %s", e.Reason)
	}
	return fmt.Sprintf("access denied for %s: %s", e.Action, e.Reason)
}

// IsAccessDenied reports whether err is (or wraps) an access denial.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}

// Policy decides whether a principal may perform some action. A nil return
// grants; an *AccessDeniedError denies; any other error is a defect in the
// policy itself (for example a failed database lookup) and is surfaced
// unchanged, never converted into a denial.
type Policy func(ctx context.Context, principal *Principal) error

// HasPermission is the basic policy: the principal must hold the permission.
func HasPermission(perm Permission) Policy {
	return func(ctx context.Context, principal *Principal) error {
		if principal.Has(perm) {
			return nil
		}
		return &AccessDeniedError{Reason: fmt.Sprintf("missing permission %q", perm)}
	}
}

// PolicyFunc adapts a predicate into a policy. The reason is used when the
// predicate returns false.
func PolicyFunc(reason string, predicate func(ctx context.Context, principal *Principal) (bool, error)) Policy {
	return func(ctx context.Context, principal *Principal) error {
		ok, err := predicate(ctx, principal)
		if err != nil {
			return err
		}
		if !ok {
			return &AccessDeniedError{Reason: reason}
		}
		return nil
	}
}

// Every grants only when all child policies grant. Evaluation stops at the
// first denial or defect. Every() with no children grants.
func Every(policies ...Policy) Policy {
	return func(ctx context.Context, principal *Principal) error {
		for _, policy := range policies {
			if err := policy(ctx, principal); err != nil {
				return err
			}
		}
		return nil
	}
}

// Some grants when at least one child policy grants. A defect from any child
// aborts evaluation immediately; denials are collected so the combined
// reason names everything that was tried. Some() with no children denies.
func Some(policies ...Policy) Policy {
	return func(ctx context.Context, principal *Principal) error {
		if len(policies) == 0 {
			return &AccessDeniedError{Reason: "no policy grants this action"}
		}
		reasons := make([]string, 0, len(policies))
		for _, policy := range policies {
			err := policy(ctx, principal)
			if err == nil {
				return nil
			}
			var denied *AccessDeniedError
			if !errors.As(err, &denied) {
				return err
			}
			reasons = append(reasons, denied.Reason)
		}
		return &AccessDeniedError{Reason: strings.Join(reasons, "; ")}
	}
}

// Enforce evaluates the policy for the principal and annotates denials with
// the action being attempted.
func Enforce(ctx context.Context, principal *Principal, policy Policy, action string) error {
	err := policy(ctx, principal)
	if err == nil {
		return nil
	}
	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		return &AccessDeniedError{Action: action, Reason: denied.Reason}
	}
	return err
}
