package oidc

import "strings"

// isUserAllowed checks if a user is allowed based on domain and individual user allowlists
func isUserAllowed(email, hostedDomain string, allowedDomains, allowedUsers []string) bool {
	// If no restrictions are configured, allow all users
	if len(allowedDomains) == 0 && len(allowedUsers) == 0 {
		return true
	}

	// Individual user allowlist first (most specific)
	for _, allowedUser := range allowedUsers {
		if strings.EqualFold(email, allowedUser) {
			return true
		}
	}

	if isEmailInAllowedDomains(email, allowedDomains) {
		return true
	}

	// For Workspace accounts, also check the hosted domain
	return hostedDomain != "" && contains(allowedDomains, hostedDomain)
}

func isEmailInAllowedDomains(email string, allowedDomains []string) bool {
	email = strings.ToLower(email)
	for _, domain := range allowedDomains {
		domain = strings.ToLower(domain)
		if len(email) > len(domain)+1 && strings.HasSuffix(email, "@"+domain) {
			return true
		}
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
