package contracts

import (
	"errors"
	"fmt"
)

// Stable public error codes. These strings are part of the external
// contract; automation matches on them.
const (
	// Bundle / import.
	CodeDecisionNotFound    = "DECISION_NOT_FOUND"
	CodeBundleInvalidSchema = "BUNDLE_INVALID_SCHEMA"
	CodeIntegrityMismatch   = "INTEGRITY_MISMATCH"
	CodeDecisionExists      = "DECISION_EXISTS"
	CodeConflictModeInvalid = "CONFLICT_MODE_INVALID"
	CodeReplayInvalid       = "REPLAY_INVALID"
	CodeImportAtomicity     = "IMPORT_ATOMICITY_FAILED"

	// Audit.
	CodeNoRouterLink         = "NO_ROUTER_LINK"
	CodeRouterDigestMismatch = "ROUTER_DIGEST_MISMATCH"
	CodeLinkDigestMismatch   = "LINK_DIGEST_MISMATCH"

	// Attestation receipts.
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeRejected           = "REJECTED"
	CodePolicyBlocked      = "POLICY_BLOCKED"
	CodeUnknown            = "UNKNOWN"

	// Command layer.
	CodeDuplicateApproval = "DUPLICATE_APPROVAL"
	CodeApprovalNotFound  = "APPROVAL_NOT_FOUND"
	CodeInvalidPolicy     = "INVALID_POLICY"
	CodeInvalidIntent     = "INVALID_INTENT"
	CodeTemplateExists    = "TEMPLATE_EXISTS"
	CodeTemplateNotFound  = "TEMPLATE_NOT_FOUND"
	CodeRouterError       = "ROUTER_ERROR"

	// Blocking reasons (projection lifecycle).
	CodeNoPolicy         = "NO_POLICY"
	CodeAlreadyExecuted  = "ALREADY_EXECUTED"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeApprovalExpired  = "APPROVAL_EXPIRED"
	CodeMissingApprovals = "MISSING_APPROVALS"
)

// CodedError is a structured error with a stable public code.
type CodedError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports code equality so callers can match sentinels via errors.Is.
func (e *CodedError) Is(target error) bool {
	var ce *CodedError
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

// Errf constructs a CodedError with a formatted message.
func Errf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrCode extracts the stable code from err, or UNKNOWN if err carries none.
func ErrCode(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}
