package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Wrap wraps err in a SowingError. Context and recoverability of a wrapped
// SowingError are carried over.
func Wrap(err error, errType ErrorType, code, message string) *SowingError {
	if err == nil {
		return nil
	}

	var se *SowingError
	if errors.As(err, &se) {
		return &SowingError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       err,
			Context:     se.Context,
			Recoverable: se.Recoverable,
		}
	}

	return &SowingError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeNetwork,
	}
}

// GetErrorContext merges the context of every SowingError in err's chain.
// Outer values win.
func GetErrorContext(err error) map[string]interface{} {
	ctx := map[string]interface{}{}
	for err != nil {
		if se, ok := err.(*SowingError); ok {
			for k, v := range se.Context {
				if _, seen := ctx[k]; !seen {
					ctx[k] = v
				}
			}
		}
		err = errors.Unwrap(err)
	}
	return ctx
}

// FormatError formats an error for the terminal. A "hint" context value is
// printed on its own line; other context is listed as key=value.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	ctx := GetErrorContext(err)
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(err.Error())

	if hint, ok := ctx["hint"]; ok {
		fmt.Fprintf(&b, "\n  hint: %v", hint)
		delete(ctx, "hint")
	}

	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s=%v", k, ctx[k])
	}
	return b.String()
}
