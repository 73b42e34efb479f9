// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"strings"
	"unicode"
)

// Language codes understood by the built-in rules.
const (
	LanguageAuto    = "auto"
	LanguageEnglish = "en"
	LanguageKorean  = "ko"
)

// hangulThreshold is the Hangul share of non-space runes above which text
// is treated as Korean.
const hangulThreshold = 0.3

// DetectLanguage returns "ko" when more than 30% of the non-space runes
// in text are Hangul, otherwise "en".
func DetectLanguage(text string) string {
	var hangul, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Hangul, r) {
			hangul++
		}
	}
	if total == 0 {
		return LanguageEnglish
	}
	if float64(hangul)/float64(total) > hangulThreshold {
		return LanguageKorean
	}
	return LanguageEnglish
}

// ResolveLanguage maps "auto" (or empty) to the detected language and
// passes explicit codes through lower-cased.
func ResolveLanguage(language, text string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" || lang == LanguageAuto {
		return DetectLanguage(text)
	}
	return lang
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

// koreanParticles are trailing postpositions stripped from Hangul tokens.
// Longer particles come first so "에서" wins over "에".
var koreanParticles = []string{
	"에서는", "으로는", "에게서", "에서", "으로", "에게", "까지", "부터", "와", "과",
	"은", "는", "이", "가", "을", "를", "의", "에", "로", "도", "만",
}

// stripParticle removes one trailing particle if what remains is at least
// two runes long.
func stripParticle(token string) string {
	for _, p := range koreanParticles {
		if strings.HasSuffix(token, p) {
			rest := strings.TrimSuffix(token, p)
			if len([]rune(rest)) >= 2 {
				return rest
			}
		}
	}
	return token
}
