package policy

import (
	"fmt"
	"strings"
)

// Validate checks a policy document before it is persisted. Validation is
// fail-fast: the first offending statement aborts with its 1-based index and
// the reason.
func Validate(statements []Statement) error {
	if len(statements) == 0 {
		return fmt.Errorf("%w: policy content can not be empty", ErrInvalidDocument)
	}
	for i, st := range statements {
		if reason := validateStatement(st); reason != "" {
			return fmt.Errorf("%w: invalid policy item number by index %d: %s",
				ErrInvalidDocument, i+1, reason)
		}
	}
	return nil
}

func validateStatement(st Statement) string {
	if st.Effect != EffectAllow && st.Effect != EffectDeny {
		return fmt.Sprintf("incorrect %q value provided for 'Effect' key. "+
			"Allowed values: %s, %s", string(st.Effect), EffectAllow, EffectDeny)
	}
	if strings.TrimSpace(st.Module) == "" {
		return "field 'Module' of type string is required for each policy item"
	}
	if len(st.Resources) == 0 {
		return "resources property in policy can not be empty. " +
			`To mark all resources use "*" symbol`
	}
	for _, value := range st.Resources {
		if value == "" {
			return "resource name can not be an empty string"
		}
		if strings.HasPrefix(value, "/") {
			return fmt.Sprintf("resource name started with '/' not allowed. "+
				"Incorrect value: %s", value)
		}
		if strings.HasPrefix(value, ":") {
			return fmt.Sprintf("resource name started with ':' not allowed. "+
				"Incorrect value: %s", value)
		}
		if strings.HasPrefix(value, "*") && value != "*" {
			return fmt.Sprintf("resource name started with '*' not allowed. "+
				"Incorrect value: %s. To Allow/Deny all in module's content "+
				"use '*' or 'group:*' or 'group/subgroup:*'", value)
		}
	}
	return ""
}
