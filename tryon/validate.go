// ABOUTME: Pure, synchronous parameter validation shared by all provider adapters.
// ABOUTME: Checks required fields, image reference shape, and provider-specific value domains.

package tryon

import (
	"fmt"
	"path"
	"strings"
)

// imageExtensions are the recognized image file extensions, lowercase with dot.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Rules describes one provider's parameter contract. Validation with a Rules
// value is pure and has no side effects; it runs identically for generate
// and regenerate.
type Rules struct {
	// RequireHostedURLs forces image references to begin with http(s)://.
	// When false, a local path with a recognized image extension is also accepted.
	RequireHostedURLs bool
	// Modes is the accepted domain for Params.Mode; empty means Mode is not accepted.
	Modes []string
	// Categories is the accepted domain for Params.Category; empty means Category is not accepted.
	Categories []string
	// MaxSeed bounds Params.Seed to [0, MaxSeed]. Zero disables the seed field.
	MaxSeed int64
	// MaxSamples bounds Params.NumSamples to [1, MaxSamples] when NumSamples is set.
	MaxSamples int
}

// ValidateParams checks p against the provider rules and returns a
// *ValidationError naming the first offending field, or nil.
func ValidateParams(p Params, r Rules) error {
	refs := []struct {
		field string
		value string
	}{
		{"model_image", p.ModelImage},
		{"top_garment", p.TopGarment},
		{"bottom_garment", p.BottomGarment},
	}
	for _, ref := range refs {
		if ref.value == "" {
			return &ValidationError{Field: ref.field, Reason: "required"}
		}
		if err := checkImageRef(ref.field, ref.value, r.RequireHostedURLs); err != nil {
			return err
		}
	}

	if p.Mode != "" {
		if len(r.Modes) == 0 {
			return &ValidationError{Field: "mode", Reason: "not accepted by this provider"}
		}
		if !contains(r.Modes, p.Mode) {
			return &ValidationError{
				Field:  "mode",
				Reason: fmt.Sprintf("must be one of %s", strings.Join(r.Modes, ", ")),
			}
		}
	}

	if p.Category != "" {
		if len(r.Categories) == 0 {
			return &ValidationError{Field: "category", Reason: "not accepted by this provider"}
		}
		if !contains(r.Categories, p.Category) {
			return &ValidationError{
				Field:  "category",
				Reason: fmt.Sprintf("must be one of %s", strings.Join(r.Categories, ", ")),
			}
		}
	}

	if p.Seed != 0 {
		if r.MaxSeed == 0 {
			return &ValidationError{Field: "seed", Reason: "not accepted by this provider"}
		}
		if p.Seed < 0 || p.Seed > r.MaxSeed {
			return &ValidationError{
				Field:  "seed",
				Reason: fmt.Sprintf("must be between 0 and %d", r.MaxSeed),
			}
		}
	}

	if p.NumSamples != 0 {
		if r.MaxSamples == 0 {
			return &ValidationError{Field: "num_samples", Reason: "not accepted by this provider"}
		}
		if p.NumSamples < 1 || p.NumSamples > r.MaxSamples {
			return &ValidationError{
				Field:  "num_samples",
				Reason: fmt.Sprintf("must be between 1 and %d", r.MaxSamples),
			}
		}
	}

	return nil
}

// checkImageRef validates the shape of one image reference.
func checkImageRef(field, value string, requireHosted bool) error {
	if isHostedURL(value) {
		return nil
	}
	if requireHosted {
		return &ValidationError{Field: field, Reason: "must be a hosted http(s):// URL"}
	}
	ext := strings.ToLower(path.Ext(value))
	if !imageExtensions[ext] {
		return &ValidationError{
			Field:  field,
			Reason: "must be a hosted URL or end in .png, .jpg, .jpeg, or .webp",
		}
	}
	return nil
}

// isHostedURL reports whether ref begins with an http or https scheme.
func isHostedURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
