package cli

import (
	"errors"

	"github.com/aidanlsb/bql/internal/bql"
	"github.com/aidanlsb/bql/internal/config"
	"github.com/aidanlsb/bql/internal/library"
)

// Error codes for structured error responses.
// These codes are stable and can be relied upon by agents.
const (
	ErrConfigInvalid = "CONFIG_INVALID"

	// Query errors
	ErrQueryInvalid        = "QUERY_INVALID"
	ErrQueryNotFound       = "QUERY_NOT_FOUND"
	ErrFieldNotFound       = "FIELD_NOT_FOUND"
	ErrOperatorUnsupported = "OPERATOR_UNSUPPORTED"
	ErrInvalidValue        = "INVALID_VALUE"

	// Library errors
	ErrCyclicReference = "CYCLIC_REFERENCE"
	ErrStillReferenced = "STILL_REFERENCED"
	ErrCascadePartial  = "CASCADE_PARTIAL"
	ErrDuplicateName   = "DUPLICATE_NAME"
	ErrLocked          = "LOCKED"
	ErrStoreError      = "STORE_ERROR"

	// Input errors
	ErrInvalidInput    = "INVALID_INPUT"
	ErrMissingArgument = "MISSING_ARGUMENT"
	ErrFileReadError   = "FILE_READ_ERROR"

	// General errors
	ErrInternal = "INTERNAL_ERROR"
)

// Warning codes for non-fatal issues.
const (
	WarnUnresolvedName = "UNRESOLVED_NAME"
	WarnAuditDisabled  = "AUDIT_DISABLED"
)

// classifyError maps err to a stable code with machine-readable details.
// The cascade check comes first because a CascadeError wraps the store error
// that stopped it.
func classifyError(fallback string, err error) ErrorInfo {
	info := ErrorInfo{Code: fallback, Message: err.Error()}

	var (
		cascadeErr     *library.CascadeError
		stillRefErr    *library.StillReferencedError
		lexErr         *bql.LexError
		syntaxErr      *bql.SyntaxError
		tooDeepErr     *bql.TooDeepError
		cycleErr       *bql.CyclicReferenceError
		unresolvedErr  *bql.UnresolvedNameError
		unknownErr     *bql.UnknownFieldError
		unsupportedErr *bql.UnsupportedOperatorError
		valueErr       *bql.InvalidValueError
	)

	switch {
	case errors.As(err, &cascadeErr):
		info.Code = ErrCascadePartial
		info.Details = map[string]interface{}{
			"op":        cascadeErr.Op,
			"name":      cascadeErr.Name,
			"failed":    cascadeErr.Failed,
			"completed": nonNil(cascadeErr.Completed),
			"pending":   nonNil(cascadeErr.Pending),
		}
		info.Suggestion = "Run the same command again to finish the remaining writes"
	case errors.As(err, &stillRefErr):
		info.Code = ErrStillReferenced
		info.Details = map[string]interface{}{
			"name":       stillRefErr.Name,
			"dependents": stillRefErr.Dependents,
		}
		info.Suggestion = "Run without --strict to rewrite the dependents"
	case errors.As(err, &cycleErr):
		info.Code = ErrCyclicReference
		info.Details = map[string]interface{}{
			"name":  cycleErr.Name,
			"chain": nonNil(cycleErr.Chain),
		}
	case errors.As(err, &lexErr):
		info.Code = ErrQueryInvalid
		info.Details = map[string]interface{}{"position": lexErr.Pos}
	case errors.As(err, &syntaxErr):
		info.Code = ErrQueryInvalid
		details := map[string]interface{}{
			"position": syntaxErr.Pos,
			"expected": syntaxErr.Expected,
		}
		if syntaxErr.Found != "" {
			details["found"] = syntaxErr.Found
		}
		info.Details = details
	case errors.As(err, &tooDeepErr):
		info.Code = ErrQueryInvalid
		info.Details = map[string]interface{}{"limit": tooDeepErr.Limit}
		info.Suggestion = "Raise max_depth in the config file"
	case errors.As(err, &unresolvedErr):
		info.Code = ErrQueryNotFound
		info.Details = map[string]interface{}{"name": unresolvedErr.Name}
		info.Suggestion = "Run 'bql query list' to see saved queries"
	case errors.As(err, &unknownErr):
		info.Code = ErrFieldNotFound
		info.Details = map[string]interface{}{"field": unknownErr.Field}
	case errors.As(err, &unsupportedErr):
		info.Code = ErrOperatorUnsupported
		info.Details = map[string]interface{}{
			"field":     unsupportedErr.Field,
			"operator":  unsupportedErr.Operator,
			"type":      unsupportedErr.Type,
			"supported": bql.SupportedOperators(unsupportedErr.Type),
		}
	case errors.As(err, &valueErr):
		info.Code = ErrInvalidValue
		info.Details = map[string]interface{}{
			"field": valueErr.Field,
			"type":  valueErr.Type,
			"value": valueErr.Value,
		}
	case errors.Is(err, bql.ErrEmptyGroup):
		info.Code = ErrQueryInvalid
	case errors.Is(err, library.ErrNameNotFound):
		info.Code = ErrQueryNotFound
		info.Suggestion = "Run 'bql query list' to see saved queries"
	case errors.Is(err, library.ErrNameExists):
		info.Code = ErrDuplicateName
	case errors.Is(err, library.ErrInvalidName):
		info.Code = ErrInvalidInput
	case errors.Is(err, library.ErrLocked):
		info.Code = ErrLocked
		info.Suggestion = "Wait for the other bql process to finish and try again"
	case errors.Is(err, config.ErrInvalid):
		info.Code = ErrConfigInvalid
	}
	return info
}

// errorPosition returns the byte offset a lex or syntax error points at.
func errorPosition(err error) (int, bool) {
	var lexErr *bql.LexError
	if errors.As(err, &lexErr) {
		return lexErr.Pos, true
	}
	var syntaxErr *bql.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Pos, true
	}
	return 0, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
