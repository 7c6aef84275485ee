// Package registrypath canonicalizes user-supplied Windows registry paths
// into a single regedit-style storage form and the PowerShell registry
// provider form used by generated probe scripts.
package registrypath

import (
	"regexp"
	"strings"
)

const providerPrefix = "Registry::"

type hiveAlias struct {
	pattern   *regexp.Regexp
	canonical string
}

// Aliases are anchored and only match when followed by a separator, a colon
// or end of string, so "HKLMFOO" is left alone.
var hiveAliases = []hiveAlias{
	{regexp.MustCompile(`(?i)^HKLM($|[:\\])`), "HKEY_LOCAL_MACHINE"},
	{regexp.MustCompile(`(?i)^HKEY_LOCAL_MACHINE($|[:\\])`), "HKEY_LOCAL_MACHINE"},
	{regexp.MustCompile(`(?i)^HKCU($|[:\\])`), "HKEY_CURRENT_USER"},
	{regexp.MustCompile(`(?i)^HKEY_CURRENT_USER($|[:\\])`), "HKEY_CURRENT_USER"},
	{regexp.MustCompile(`(?i)^HKCR($|[:\\])`), "HKEY_CLASSES_ROOT"},
	{regexp.MustCompile(`(?i)^HKEY_CLASSES_ROOT($|[:\\])`), "HKEY_CLASSES_ROOT"},
	{regexp.MustCompile(`(?i)^HKU($|[:\\])`), "HKEY_USERS"},
	{regexp.MustCompile(`(?i)^HKEY_USERS($|[:\\])`), "HKEY_USERS"},
	{regexp.MustCompile(`(?i)^HKCC($|[:\\])`), "HKEY_CURRENT_CONFIG"},
	{regexp.MustCompile(`(?i)^HKEY_CURRENT_CONFIG($|[:\\])`), "HKEY_CURRENT_CONFIG"},
}

var (
	providerPrefixRe  = regexp.MustCompile(`(?i)^Registry::`)
	multiBackslashRe  = regexp.MustCompile(`\\{2,}`)
	driveColonRe      = regexp.MustCompile(`^([A-Za-z_]+):\\`)
	hiveSeparatorRe   = regexp.MustCompile(`^(HKEY_[A-Z_]+)\\+`)
	trailingSlashesRe = regexp.MustCompile(`\\+$`)
)

// Normalize converts any accepted spelling of a registry path into the
// canonical regedit-style storage form, e.g.
//
//	HKLM:\SOFTWARE\Vendor  ->  HKEY_LOCAL_MACHINE\SOFTWARE\Vendor
//
// Accepted inputs: HKLM:\..., HKLM\..., HKEY_LOCAL_MACHINE\...,
// Registry::HKEY_LOCAL_MACHINE\..., plus the HKCU/HKCR/HKU/HKCC aliases,
// with "/" tolerated as a separator. Normalize is idempotent.
func Normalize(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return s
	}

	if providerPrefixRe.MatchString(s) {
		s = strings.TrimSpace(providerPrefixRe.ReplaceAllString(s, ""))
	}

	s = strings.ReplaceAll(s, "/", `\`)
	s = multiBackslashRe.ReplaceAllString(s, `\`)

	// HKLM:\... drive-style colon is dropped for the storage form.
	s = driveColonRe.ReplaceAllString(s, `$1\`)

	for _, alias := range hiveAliases {
		if alias.pattern.MatchString(s) {
			loc := alias.pattern.FindStringSubmatchIndex(s)
			// Replace only the hive token, keep the separator capture.
			s = alias.canonical + s[loc[2]:]
			break
		}
	}

	s = hiveSeparatorRe.ReplaceAllString(s, `$1\`)
	s = trailingSlashesRe.ReplaceAllString(s, "")

	return s
}

// ToProviderPath converts a stored or user-supplied registry path into the
// PowerShell registry provider form (Registry::HKEY_...).
func ToProviderPath(path string) string {
	stored := Normalize(path)
	if stored == "" {
		return stored
	}
	if providerPrefixRe.MatchString(stored) {
		return stored
	}
	return providerPrefix + stored
}

// NormalizeValueName trims the value name; blank names collapse to the
// empty string, meaning "no value name requested".
func NormalizeValueName(input string) string {
	return strings.TrimSpace(input)
}
