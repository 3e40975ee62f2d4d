package ldap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name         string
		operation    string
		err          error
		wantNil      bool
		wantCategory ErrorCategory
	}{
		{
			name:      "nil error",
			operation: "search",
			wantNil:   true,
		},
		{
			name:         "ldap error",
			operation:    "bind",
			err:          ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCategory: ErrorCategoryAuthentication,
		},
		{
			name:         "generic error",
			operation:    "connect",
			err:          errors.New("connection refused"),
			wantCategory: ErrorCategoryConnection,
		},
		{
			name:         "client-side size limit",
			operation:    "search",
			err:          ldap.ErrSizeLimitExceeded,
			wantCategory: ErrorCategorySizeLimit,
		},
		{
			name:         "server-side size limit",
			operation:    "search",
			err:          ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit")),
			wantCategory: ErrorCategorySizeLimit,
		},
		{
			name:         "assertion failed",
			operation:    "modify",
			err:          ldap.NewError(ldap.LDAPResultAssertionFailed, errors.New("assertion")),
			wantCategory: ErrorCategoryAssertionFailed,
		},
		{
			name:         "wrapped ldap error",
			operation:    "modify",
			err:          fmt.Errorf("outer: %w", ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("slow"))),
			wantCategory: ErrorCategoryTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewLDAPError(tt.operation, tt.err)

			if tt.wantNil {
				if result != nil {
					t.Errorf("NewLDAPError() = %v, want nil", result)
				}
				return
			}

			if result == nil {
				t.Fatal("NewLDAPError() = nil, want non-nil")
			}
			if result.Operation != tt.operation {
				t.Errorf("Operation = %s, want %s", result.Operation, tt.operation)
			}
			if result.Cause != tt.err {
				t.Errorf("Cause = %v, want %v", result.Cause, tt.err)
			}
			if result.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", result.Category, tt.wantCategory)
			}
		})
	}
}

func TestLDAPError_Error(t *testing.T) {
	tests := []struct {
		name    string
		ldapErr *LDAPError
		want    string
	}{
		{
			name: "basic error",
			ldapErr: &LDAPError{
				Operation: "search",
				Message:   "operation failed",
			},
			want: "LDAP search failed - operation failed",
		},
		{
			name: "error with code",
			ldapErr: &LDAPError{
				Operation: "bind",
				LDAPCode:  ldap.LDAPResultInvalidCredentials,
				Message:   "authentication failed",
			},
			want: "LDAP bind failed (code 49) - authentication failed",
		},
		{
			name: "error with server message",
			ldapErr: &LDAPError{
				Operation: "add",
				Message:   "validation failed",
				ServerMsg: "attribute required",
			},
			want: "LDAP add failed - validation failed - server: attribute required",
		},
		{
			name: "error with DN",
			ldapErr: &LDAPError{
				Operation: "modify",
				Message:   "access denied",
				DN:        "uid=user,ou=people,dc=example,dc=com",
			},
			want: "LDAP modify failed - access denied - DN: uid=user,ou=people,dc=example,dc=com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ldapErr.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		code uint16
		want ErrorCategory
	}{
		{ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication},
		{ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission},
		{ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound},
		{ldap.LDAPResultEntryAlreadyExists, ErrorCategoryConflict},
		{ldap.LDAPResultConstraintViolation, ErrorCategoryValidation},
		{ldap.LDAPResultSizeLimitExceeded, ErrorCategorySizeLimit},
		{ldap.LDAPResultAdminLimitExceeded, ErrorCategorySizeLimit},
		{ldap.LDAPResultTimeLimitExceeded, ErrorCategoryTimeout},
		{ldap.LDAPResultTimeout, ErrorCategoryTimeout},
		{ldap.LDAPResultAssertionFailed, ErrorCategoryAssertionFailed},
		{ldap.LDAPResultBusy, ErrorCategoryServer},
		{ldap.LDAPResultConnectError, ErrorCategoryConnection},
		{9999, ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := categorizeError(tt.code); got != tt.want {
				t.Errorf("categorizeError(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestCategorizeGenericError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"connection error", errors.New("connection refused"), ErrorCategoryConnection},
		{"timeout error", errors.New("operation timeout"), ErrorCategoryTimeout},
		{"timed out", errors.New("i/o timed out"), ErrorCategoryTimeout},
		{"context deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"authentication error", errors.New("invalid credentials"), ErrorCategoryAuthentication},
		{"permission error", errors.New("access denied"), ErrorCategoryPermission},
		{"unknown error", errors.New("something went wrong"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeGenericError(tt.err); got != tt.want {
				t.Errorf("categorizeGenericError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsLDAPCodeRetryable(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want bool
	}{
		{"busy", ldap.LDAPResultBusy, true},
		{"unavailable", ldap.LDAPResultUnavailable, true},
		{"server down", ldap.LDAPResultServerDown, true},
		{"invalid credentials", ldap.LDAPResultInvalidCredentials, false},
		{"no such object", ldap.LDAPResultNoSuchObject, false},
		{"assertion failed", ldap.LDAPResultAssertionFailed, false},
		{"size limit", ldap.LDAPResultSizeLimitExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLDAPCodeRetryable(tt.code); got != tt.want {
				t.Errorf("isLDAPCodeRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"retryable connection error", NewConnectionError("connection failed", true, nil), true},
		{"non-retryable connection error", NewConnectionError("config error", false, nil), false},
		{"retryable LDAP error", NewLDAPError("search", ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))), true},
		{"non-retryable LDAP error", NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password"))), false},
		{"size limit is not retried", NewLDAPError("search", ldap.ErrSizeLimitExceeded), false},
		{"generic retryable error", errors.New("connection timeout"), true},
		{"generic non-retryable error", errors.New("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("search", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}

	wrapped := WrapError("bind", errors.New("authentication failed"))
	var ldapErr *LDAPError
	if !errors.As(wrapped, &ldapErr) || ldapErr.Operation != "bind" {
		t.Errorf("WrapError() = %v, want LDAPError for bind", wrapped)
	}

	existing := &LDAPError{Operation: "existing", Message: "test"}
	if got := WrapError("search", existing); got != error(existing) || existing.Operation != "existing" {
		t.Errorf("WrapError() should preserve existing LDAPError, got %v", got)
	}
}

func TestErrorHelperFunctions(t *testing.T) {
	sizeLimit := NewLDAPError("search", ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("limit")))
	retried := NewConnectionError("operation failed after retries", false,
		NewLDAPError("count", ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("slow"))))

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewLDAPError("search", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("object not found"))), IsNotFoundError},
		{"not found constructor", NewNotFoundError("get", "uid=x,dc=example"), IsNotFoundError},
		{"conflict", NewLDAPError("add", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry exists"))), IsConflictError},
		{"authentication", NewLDAPError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password"))), IsAuthenticationError},
		{"permission", NewLDAPError("modify", ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied"))), IsPermissionError},
		{"size limit", sizeLimit, IsSizeLimitExceeded},
		{"wrapped size limit", fmt.Errorf("search failed: %w", sizeLimit), IsSizeLimitExceeded},
		{"raw client size limit", ldap.ErrSizeLimitExceeded, IsSizeLimitExceeded},
		{"timeout after retries", retried, IsTimeoutError},
		{"multiple matches", NewMultipleMatchesError("search_one", "dc=example", "(mail=a@example.com)"), IsMultipleMatchesError},
		{"assertion failed", NewLDAPError("modify", ldap.NewError(ldap.LDAPResultAssertionFailed, errors.New("no"))), IsAssertionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("helper returned false for %v (category %s)", tt.err, GetErrorCategory(tt.err))
			}
		})
	}
}

func TestGetLDAPCodeMessage(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want string
	}{
		{"invalid credentials", ldap.LDAPResultInvalidCredentials, "Invalid credentials"},
		{"no such object", ldap.LDAPResultNoSuchObject, "Entry does not exist"},
		{"entry already exists", ldap.LDAPResultEntryAlreadyExists, "Entry already exists"},
		{"time limit", ldap.LDAPResultTimeLimitExceeded, "directory not responding or slow"},
		{"unknown code", 9999, "Unknown LDAP error (code 9999)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getLDAPCodeMessage(tt.code); got != tt.want {
				t.Errorf("getLDAPCodeMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
