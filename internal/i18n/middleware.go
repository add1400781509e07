package i18n

import (
	"net/http"
	"slices"

	"golang.org/x/text/language"
)

// Middleware injects a localizer into every request context. The language is
// taken from the Accept-Language header when it names a loaded locale,
// otherwise lang is used.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if preferred := preferredLanguage(r.Header.Get("Accept-Language")); preferred != "" {
				loc = NewLocalizer(preferred, lang)
			}
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// preferredLanguage returns the first Accept-Language entry with a loaded locale.
func preferredLanguage(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return ""
	}
	loaded := Languages()
	for _, tag := range tags {
		base, _ := tag.Base()
		if slices.Contains(loaded, base.String()) {
			return base.String()
		}
	}
	return ""
}
