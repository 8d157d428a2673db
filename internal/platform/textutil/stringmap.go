package textutil

import "strings"

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

var sensitivePaymentKeys = []string{"card", "cvc", "cvv", "pan", "account", "iban", "token", "secret"}

// RedactPaymentDetails masks values whose keys look like card or account data, keeping only the
// last four characters. The input map is not modified.
func RedactPaymentDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	result := make(map[string]string, len(details))
	for key, value := range details {
		if isSensitivePaymentKey(key) {
			result[key] = maskTail(value, 4)
			continue
		}
		result[key] = value
	}
	return result
}

func isSensitivePaymentKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range sensitivePaymentKeys {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func maskTail(value string, keep int) string {
	runes := []rune(value)
	if len(runes) <= keep {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-keep) + string(runes[len(runes)-keep:])
}
