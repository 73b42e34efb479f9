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
	"context"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// SmartExtractor is the pluggable second stage of extraction.
//
// Description:
//
//	Implementations may call an LLM or NER service. Errors are never
//	surfaced to extraction callers: the extractors log them, count them,
//	and continue with pattern results.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type SmartExtractor interface {
	// ExtractEntities returns candidate entities found in text. language
	// is already resolved ("en", "ko", ...).
	ExtractEntities(ctx context.Context, text, language string) ([]model.Entity, error)

	// ExtractRelationships returns relationships between the given
	// entities. Endpoints must be ids from entities.
	ExtractRelationships(ctx context.Context, text string, entities []model.Entity) ([]model.Relationship, error)
}

// NoopSmartExtractor finds nothing. Extraction with it is pattern-only.
type NoopSmartExtractor struct{}

// ExtractEntities returns nil.
func (NoopSmartExtractor) ExtractEntities(context.Context, string, string) ([]model.Entity, error) {
	return nil, nil
}

// ExtractRelationships returns nil.
func (NoopSmartExtractor) ExtractRelationships(context.Context, string, []model.Entity) ([]model.Relationship, error) {
	return nil, nil
}

// HeuristicSmartExtractor is the built-in smart stage. It needs no
// external service.
//
// Entities are "important" tokens: capitalized words, or Hangul compounds
// of at least two runes once a trailing particle is removed. Their type
// comes from small keyword sets. Relationships come from the entity
// type-pair table applied to every co-occurring pair.
type HeuristicSmartExtractor struct {
	// MaxEntities caps entities per call. Zero means SmartEntityCap.
	MaxEntities int
}

// ExtractEntities selects important tokens from text.
func (h HeuristicSmartExtractor) ExtractEntities(ctx context.Context, text, _ string) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := h.MaxEntities
	if limit <= 0 {
		limit = SmartEntityCap
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-.+#", r))
	})

	var out []model.Entity
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if len(out) >= limit {
			break
		}
		label, ok := importantToken(tok)
		if !ok {
			continue
		}
		key := model.NormalizeLabel(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, model.NewEntity(label, inferEntityType(label), SmartConfidence, model.MethodSmart))
	}
	return out, nil
}

// ExtractRelationships applies the type-pair table to every unordered pair
// of entities whose labels both occur in text.
func (h HeuristicSmartExtractor) ExtractRelationships(ctx context.Context, text string, entities []model.Entity) ([]model.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pairTableRelationships(text, entities), nil
}

func pairTableRelationships(text string, entities []model.Entity) []model.Relationship {
	lower := strings.ToLower(text)
	present := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.Contains(lower, strings.ToLower(e.Label)) {
			present = append(present, e)
		}
	}

	var out []model.Relationship
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			src, dst := present[i], present[j]
			if src.ID == dst.ID {
				continue
			}
			typ, forward := pairRelation(src.Type, dst.Type)
			if !forward {
				src, dst = dst, src
			}
			out = append(out, model.NewRelationship(src.ID, dst.ID, typ, SmartRelationConfidence, model.MethodSmart))
		}
	}
	return out
}

// pairRelation returns the relation implied by two entity types and
// whether a is the source (false means b is the source).
func pairRelation(a, b model.EntityType) (model.RelationType, bool) {
	switch {
	case a == model.EntityTechnology && b == model.EntityTechnology:
		return model.RelIntegratesWith, true
	case a == model.EntityOrganization && b == model.EntityTechnology:
		return model.RelUses, true
	case a == model.EntityTechnology && b == model.EntityOrganization:
		return model.RelUses, false
	case a == model.EntityPerson && b == model.EntityOrganization:
		return model.RelWorksFor, true
	case a == model.EntityOrganization && b == model.EntityPerson:
		return model.RelWorksFor, false
	case a == model.EntityProcess && b == model.EntityTechnology:
		return model.RelUses, true
	case a == model.EntityTechnology && b == model.EntityProcess:
		return model.RelUses, false
	default:
		return model.RelRelatedTo, true
	}
}

// importantToken decides whether tok is a smart-stage candidate and
// returns the label to use.
func importantToken(tok string) (string, bool) {
	tok = strings.TrimRight(tok, ".-")
	runes := []rune(tok)
	if len(runes) < 2 {
		return "", false
	}
	if unicode.IsUpper(runes[0]) {
		if _, stop := englishStopwords[strings.ToLower(tok)]; stop {
			return "", false
		}
		return tok, true
	}
	if allHangul(runes) {
		stem := stripParticle(tok)
		if _, stop := koreanStopwords[stem]; stop {
			return "", false
		}
		if len([]rune(stem)) >= 2 {
			return stem, true
		}
	}
	return "", false
}

func allHangul(runes []rune) bool {
	for _, r := range runes {
		if !isHangul(r) {
			return false
		}
	}
	return true
}

// inferEntityType picks technology or organization from keyword sets,
// defaulting to concept.
func inferEntityType(label string) model.EntityType {
	lower := strings.ToLower(label)
	if matchesKeyword(lower, organizationKeywords) {
		return model.EntityOrganization
	}
	if matchesKeyword(lower, technologyKeywords) {
		return model.EntityTechnology
	}
	return model.EntityConcept
}

// matchesKeyword matches short keywords exactly and long ones as
// substrings, so "ai" does not match "OpenAI" but "cloud" matches
// "CloudSQL".
func matchesKeyword(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if lower == kw {
			return true
		}
		if len([]rune(kw)) >= 4 && strings.Contains(lower, kw) {
			return true
		}
		if isHangul([]rune(kw)[0]) && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var organizationKeywords = []string{
	"inc", "corp", "corporation", "company", "ltd", "llc", "university",
	"institute", "foundation", "labs", "agency", "ministry", "association",
	"openai", "anthropic", "google", "microsoft", "amazon", "meta", "apple",
	"회사", "기업", "대학", "연구소", "그룹", "재단", "협회", "은행",
}

var technologyKeywords = []string{
	"ai", "ml", "api", "sdk", "db", "sql", "llm", "gpt", "gpu", "cpu",
	"database", "framework", "library", "server", "cloud", "platform",
	"software", "algorithm", "model", "network", "protocol", "engine",
	"kubernetes", "docker", "python", "java", "golang", "linux", "script",
	"기술", "시스템", "데이터", "플랫폼", "서버", "알고리즘", "소프트웨어", "네트워크", "인공지능", "모델",
}

var englishStopwords = toSet(
	"the", "this", "that", "these", "those", "it", "its", "what", "when",
	"where", "which", "who", "whom", "why", "how", "an", "in", "on", "at",
	"for", "and", "but", "or", "if", "we", "they", "he", "she", "you",
	"our", "their", "there", "here", "does", "do", "did", "is", "are",
	"was", "were", "be", "as", "by", "to", "of", "with", "from", "also",
	"however", "then", "so", "after", "before", "while", "both", "each",
	"all", "some", "many", "most", "can", "will", "should", "would",
	"not", "no", "yes", "my", "your", "his", "her",
)

var koreanStopwords = toSet(
	"그리고", "그러나", "하지만", "또한", "그래서", "따라서", "이것", "그것",
	"저것", "우리", "그들", "있다", "없다", "한다", "합니다", "입니다",
	"있습니다", "했다", "하는", "되는", "위해", "통해", "대한", "같은",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

var (
	_ SmartExtractor = NoopSmartExtractor{}
	_ SmartExtractor = HeuristicSmartExtractor{}
)
