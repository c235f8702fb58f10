package cachemanager

import (
	"strings"

	"txcache/pkg/models"
	"txcache/pkg/utils/regex"
)

// Resolve merges a profile's filter settings over the base settings. Numeric
// modes and pointer fields override only when set; flags are taken from the
// override as a whole.
func Resolve(base *models.FilterConfig, override *models.FilterConfig) *models.FilterConfig {
	if override == nil {
		return base
	}
	if base == nil {
		resolved := *override
		return &resolved
	}

	resolved := *override
	if resolved.FilterMode == 0 {
		resolved.FilterMode = base.FilterMode
	}
	if resolved.EnhancementMode == 0 {
		resolved.EnhancementMode = base.EnhancementMode
	}
	if resolved.Compression == 0 {
		resolved.Compression = base.Compression
	}
	if resolved.BilinearMode == nil {
		resolved.BilinearMode = base.BilinearMode
	}
	if resolved.MaxAnisotropy == nil {
		resolved.MaxAnisotropy = base.MaxAnisotropy
	}
	return &resolved
}

// MatchProfile returns the first profile whose name equals the encoded,
// upper-cased ident or whose match patterns match it.
func MatchProfile(profiles []models.ProfileConfig, ident string) (*models.ProfileConfig, error) {
	key := strings.ToUpper(EncodeIdent(ident))
	for i := range profiles {
		profile := &profiles[i]
		if profile.Name != "" && strings.ToUpper(EncodeIdent(profile.Name)) == key {
			return profile, nil
		}
		if len(profile.Match) == 0 {
			continue
		}
		re, err := regex.CombinePatterns(profile.Match)
		if err != nil {
			return nil, err
		}
		if re.MatchString(key) {
			return profile, nil
		}
	}
	return nil, nil
}
