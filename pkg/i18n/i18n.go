// Package i18n translates user-facing notices and emails.
//
// Translations are nested JSON files (en.json, ko.json) flattened to dot
// keys at load time:
//
//	localizer := i18n.NewLocalizer("ko")
//	msg := localizer.T("lesson.aiQuotaExceeded")
package i18n

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"
)

// SupportedLanguages lists the language codes with a translation file.
var SupportedLanguages = []string{"en", "ko"}

// DefaultLanguage is the fallback for unsupported codes and missing keys.
const DefaultLanguage = "en"

// translations is map[lang]map[key]value, written once by Load and
// read-only afterwards.
var (
	translations map[string]map[string]string
	loadOnce     sync.Once
	loadErr      error
)

// Load reads one <lang>.json per supported language from localesFS.
// Only the first call does any work; later calls return its error.
func Load(localesFS fs.FS) error {
	loadOnce.Do(func() {
		loaded := make(map[string]map[string]string)

		for _, lang := range SupportedLanguages {
			fileName := lang + ".json"

			data, err := fs.ReadFile(localesFS, fileName)
			if err != nil {
				loadErr = fmt.Errorf("failed to read translation file %s: %w", fileName, err)
				return
			}

			var nested map[string]any
			if err := json.Unmarshal(data, &nested); err != nil {
				loadErr = fmt.Errorf("failed to parse translation file %s: %w", fileName, err)
				return
			}

			flat := make(map[string]string)
			flattenMap("", nested, flat)
			loaded[lang] = flat

			log.Printf("[i18n] loaded %d keys for language: %s", len(flat), lang)
		}

		translations = loaded
	})

	return loadErr
}

// Localizer translates into one language.
type Localizer struct {
	lang string
}

// NewLocalizer returns a Localizer for lang, or for DefaultLanguage when
// lang is not supported.
func NewLocalizer(lang string) *Localizer {
	lang = normalize(lang)
	if !isSupported(lang) {
		lang = DefaultLanguage
	}
	return &Localizer{lang: lang}
}

// Language returns the resolved language code.
func (l *Localizer) Language() string { return l.lang }

// T returns the translation for key, falling back to English and then to
// the key itself.
func (l *Localizer) T(key string) string {
	if msg, ok := translations[l.lang][key]; ok {
		return msg
	}
	if msg, ok := translations[DefaultLanguage][key]; ok {
		return msg
	}
	return key
}

// TWithParams translates key and substitutes {{name}} placeholders.
//
//	localizer.TWithParams("lesson.participantJoined", map[string]string{"name": "Minji"})
func (l *Localizer) TWithParams(key string, params map[string]string) string {
	msg := l.T(key)
	for k, v := range params {
		msg = strings.ReplaceAll(msg, "{{"+k+"}}", v)
	}
	return msg
}

// DetectLanguage picks the first supported language from an
// Accept-Language header ("ko-KR,ko;q=0.9,en;q=0.8").
func DetectLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return DefaultLanguage
	}

	for _, part := range strings.Split(acceptLanguage, ",") {
		lang := normalize(strings.Split(part, ";")[0])
		if isSupported(lang) {
			return lang
		}
	}

	return DefaultLanguage
}

// ─── Helpers ───

// normalize turns "ko-KR" into "ko".
func normalize(lang string) string {
	lang = strings.TrimSpace(lang)
	lang = strings.Split(lang, "-")[0]
	return strings.ToLower(lang)
}

func isSupported(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// flattenMap turns {"lesson": {"ended": "..."}} into {"lesson.ended": "..."}.
func flattenMap(prefix string, src map[string]any, dst map[string]string) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch val := v.(type) {
		case string:
			dst[key] = val
		case map[string]any:
			flattenMap(key, val, dst)
		}
	}
}
