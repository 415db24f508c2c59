package project

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmehdipour/payment-aggregator/internal/model"
)

// Credentials is the opaque provider credential map as received from owners.
type Credentials map[string]string

// validateCredentials enforces the add/update contract: at least one entry,
// plus every key the provider is configured to require, non-empty. Messages
// name missing keys only, never values.
func validateCredentials(providerName string, creds Credentials, required map[string][]string) error {
	if len(creds) == 0 {
		return fmt.Errorf("%w: credentials are required", model.ErrInvalidInput)
	}
	var missing []string
	for _, k := range required[providerName] {
		if strings.TrimSpace(creds[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s credentials missing %s", model.ErrInvalidInput, providerName, strings.Join(missing, ", "))
	}
	return nil
}
