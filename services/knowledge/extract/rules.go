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
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianKG/services/knowledge/model"
)

// EntityRule is one typed pattern of the entity pattern stage.
//
// The entity label is the submatch named "entity" if present, otherwise
// the first capture group, otherwise the whole match.
type EntityRule struct {
	Name     string           `yaml:"name"`
	Type     model.EntityType `yaml:"type"`
	Language string           `yaml:"language,omitempty"`
	Pattern  string           `yaml:"pattern"`

	re       *regexp.Regexp
	labelIdx int
}

// RelationRule is one phrase pattern of the relationship pattern stage.
// The pattern must have exactly two capture groups: source phrase, then
// target phrase.
type RelationRule struct {
	Name     string             `yaml:"name"`
	Type     model.RelationType `yaml:"type"`
	Language string             `yaml:"language,omitempty"`
	Pattern  string             `yaml:"pattern"`

	re *regexp.Regexp
}

// RuleSet is the pattern configuration of both extractors. Rules are
// evaluated in order.
type RuleSet struct {
	Entities  []EntityRule   `yaml:"entities"`
	Relations []RelationRule `yaml:"relations"`
}

// Compile validates and compiles every rule. It must be called before a
// RuleSet is used; DefaultRules and LoadRuleSet return compiled sets.
func (rs *RuleSet) Compile() error {
	for i := range rs.Entities {
		r := &rs.Entities[i]
		if !r.Type.Valid() {
			return fmt.Errorf("entity rule %q: %w: %q", r.Name, model.ErrUnknownEntityType, r.Type)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("entity rule %q: %w", r.Name, err)
		}
		r.re = re
		r.labelIdx = 0
		if idx := re.SubexpIndex("entity"); idx > 0 {
			r.labelIdx = idx
		} else if re.NumSubexp() > 0 {
			r.labelIdx = 1
		}
	}
	for i := range rs.Relations {
		r := &rs.Relations[i]
		if !r.Type.Valid() {
			return fmt.Errorf("relation rule %q: %w: %q", r.Name, model.ErrUnknownRelationType, r.Type)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("relation rule %q: %w", r.Name, err)
		}
		if re.NumSubexp() != 2 {
			return fmt.Errorf("relation rule %q: want 2 capture groups, got %d", r.Name, re.NumSubexp())
		}
		r.re = re
	}
	return nil
}

// Merge returns a new compiled RuleSet with extra's rules appended after
// rs's rules. A rule in extra with the same name as one in rs replaces it
// in place.
func (rs *RuleSet) Merge(extra *RuleSet) (*RuleSet, error) {
	out := &RuleSet{
		Entities:  append([]EntityRule(nil), rs.Entities...),
		Relations: append([]RelationRule(nil), rs.Relations...),
	}
	if extra != nil {
		for _, r := range extra.Entities {
			if i := indexEntityRule(out.Entities, r.Name); i >= 0 {
				out.Entities[i] = r
				continue
			}
			out.Entities = append(out.Entities, r)
		}
		for _, r := range extra.Relations {
			if i := indexRelationRule(out.Relations, r.Name); i >= 0 {
				out.Relations[i] = r
				continue
			}
			out.Relations = append(out.Relations, r)
		}
	}
	if err := out.Compile(); err != nil {
		return nil, err
	}
	return out, nil
}

func indexEntityRule(rules []EntityRule, name string) int {
	for i, r := range rules {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func indexRelationRule(rules []RelationRule, name string) int {
	for i, r := range rules {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// LoadRuleSet reads a YAML rule file and merges it over DefaultRules.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var extra RuleSet
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	merged, err := DefaultRules().Merge(&extra)
	if err != nil {
		return nil, fmt.Errorf("compile rules %s: %w", path, err)
	}
	return merged, nil
}

// appliesTo reports whether a rule tagged with ruleLang runs for text in
// lang. Untagged rules run for every language.
func appliesTo(ruleLang, lang string) bool {
	return ruleLang == "" || ruleLang == lang
}

// DefaultRules returns the built-in English and Korean rule set.
func DefaultRules() *RuleSet {
	rs := &RuleSet{
		Entities:  defaultEntityRules(),
		Relations: defaultRelationRules(),
	}
	if err := rs.Compile(); err != nil {
		panic(fmt.Sprintf("extract: built-in rules do not compile: %v", err))
	}
	return rs
}

const (
	monthNames = `(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)`

	// phrase is a run of text that does not cross a sentence or clause boundary.
	phrase = `([^.!?\n;,]+?)`
	tail   = `([^.!?\n;,]+)`

	hangulPhrase = `([가-힣A-Za-z0-9][가-힣A-Za-z0-9 ]*?)`
)

func defaultEntityRules() []EntityRule {
	return []EntityRule{
		// Organizations
		{Name: "org_suffix", Type: model.EntityOrganization, Language: "en",
			Pattern: `\b(?:[A-Z][\w&-]*\s+){1,3}(?:Inc|Corp|Corporation|Ltd|LLC|GmbH|Company|Foundation|Institute|University|Labs|Group|Technologies|Systems)\b`},
		{Name: "org_lexicon", Type: model.EntityOrganization,
			Pattern: `\b(?:OpenAI|Anthropic|DeepMind|Google|Microsoft|Amazon|Apple|Meta|IBM|Oracle|Netflix|Nvidia|NVIDIA|Intel|Samsung|Naver|Kakao|Hugging Face|Mozilla|Red Hat|GitHub|GitLab|Databricks|Snowflake|Cloudflare)\b`},
		{Name: "org_ko_suffix", Type: model.EntityOrganization, Language: "ko",
			Pattern: `[가-힣A-Za-z]{1,15}(?:주식회사|그룹|대학교|연구소|연구원|재단|협회|은행|전자)`},
		{Name: "org_ko_prefix", Type: model.EntityOrganization, Language: "ko",
			Pattern: `(?:주식회사|㈜)\s?[가-힣A-Za-z]{1,15}`},
		{Name: "org_ko_lexicon", Type: model.EntityOrganization, Language: "ko",
			Pattern: `(?:삼성|네이버|카카오|현대자동차|엘지|쿠팡)`},

		// Technologies
		{Name: "tech_lexicon", Type: model.EntityTechnology,
			Pattern: `(?i)\b(?:kubernetes|docker|postgresql|postgres|mysql|mongodb|redis|kafka|rabbitmq|elasticsearch|tensorflow|pytorch|golang|python|javascript|typescript|java|kotlin|scala|graphql|grpc|terraform|ansible|nginx|linux|neo4j|weaviate|ollama|langchain|prometheus|grafana|opentelemetry|fastapi|django|numpy|pandas|webassembly|llm|gpt-4o|gpt-4|gpt-3\.5|bert|transformer|sqlite|cassandra|spark|hadoop|airflow|jenkins|git)\b`},
		{Name: "tech_proper", Type: model.EntityTechnology,
			Pattern: `\b(?:React|Rust|Swift|Flask|Spring|Vue|Angular|Node\.js|AWS|GCP|Azure|SQL|NoSQL|REST|JSON|YAML|HTML|CSS)\b`},
		{Name: "tech_ko_lexicon", Type: model.EntityTechnology, Language: "ko",
			Pattern: `(?:쿠버네티스|도커|파이썬|자바스크립트|인공지능|머신러닝|딥러닝|데이터베이스|블록체인|클라우드)`},

		// Products
		{Name: "product_lexicon", Type: model.EntityProduct,
			Pattern: `\b(?:ChatGPT|Claude|Gemini|Copilot|iPhone|Android|Windows|macOS|Excel|Slack)\b`},

		// Dates
		{Name: "date_iso", Type: model.EntityDate, Pattern: `\b\d{4}-\d{2}-\d{2}\b`},
		{Name: "date_slash", Type: model.EntityDate, Pattern: `\b\d{1,2}/\d{1,2}/\d{4}\b`},
		{Name: "date_month_first", Type: model.EntityDate, Language: "en",
			Pattern: `\b` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`},
		{Name: "date_day_first", Type: model.EntityDate, Language: "en",
			Pattern: `\b\d{1,2}\s+` + monthNames + `\.?,?\s+\d{4}\b`},
		{Name: "date_month_year", Type: model.EntityDate, Language: "en",
			Pattern: `\b(?:January|February|March|April|June|July|August|September|October|November|December)\s+\d{4}\b`},
		{Name: "date_ko", Type: model.EntityDate,
			Pattern: `\d{4}년\s*\d{1,2}월(?:\s*\d{1,2}일)?`},

		// Quantities
		{Name: "quantity_currency", Type: model.EntityQuantity,
			Pattern: `[$€£¥₩]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|[kKmMbB])\b)?`},
		{Name: "quantity_percent", Type: model.EntityQuantity, Pattern: `\b\d+(?:\.\d+)?\s?%`},
		{Name: "quantity_unit", Type: model.EntityQuantity,
			Pattern: `\b\d[\d,]*(?:\.\d+)?\s?(?:percent|USD|EUR|KRW|dollars|euros|kg|km|GB|MB|TB|ms|seconds|minutes|hours|days|users|requests)\b`},
		{Name: "quantity_ko", Type: model.EntityQuantity, Language: "ko",
			Pattern: `\d[\d,]*(?:\.\d+)?\s?(?:억원|만원|원|달러|퍼센트|명|개)`},

		// Metrics
		{Name: "metric_lexicon", Type: model.EntityMetric,
			Pattern: `(?i)\b(?:accuracy|precision|recall|latency|throughput|F1[- ]score|BLEU|ROUGE|uptime|perplexity)\b`},

		// People
		{Name: "person_honorific", Type: model.EntityPerson, Language: "en",
			Pattern: `\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+(?P<entity>[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`},
		{Name: "person_title", Type: model.EntityPerson, Language: "en",
			Pattern: `\b(?:CEO|CTO|CFO|founder|President|professor)\s+(?P<entity>[A-Z][a-z]+\s+[A-Z][a-z]+)`},
		{Name: "person_ko", Type: model.EntityPerson, Language: "ko",
			Pattern: `(?P<entity>[가-힣]{2,4})\s?(?:씨|님|교수|박사|대표|사장|회장)`},

		// Locations
		{Name: "location_lexicon", Type: model.EntityLocation,
			Pattern: `\b(?:Seoul|Busan|Tokyo|Beijing|Shanghai|Singapore|London|Paris|Berlin|New York|San Francisco|Silicon Valley|California|South Korea|Korea|Japan|China|United States|USA|Europe|Germany|France|India|Canada)\b`},
		{Name: "location_ko_suffix", Type: model.EntityLocation, Language: "ko",
			Pattern: `[가-힣]{2,6}(?:특별시|광역시|특별자치시|특별자치도)`},
		{Name: "location_ko_lexicon", Type: model.EntityLocation, Language: "ko",
			Pattern: `(?:서울|부산|대구|인천|광주|대전|울산|세종|제주|경기도|강원도|대한민국|한국|일본|중국|미국)`},
	}
}

func defaultRelationRules() []RelationRule {
	return []RelationRule{
		{Name: "is_a", Type: model.RelIsA, Language: "en",
			Pattern: phrase + `\s+(?:is|are)\s+(?:a|an|the)\s+(?:kind\s+of\s+|type\s+of\s+)?` + tail},
		{Name: "part_of", Type: model.RelPartOf, Language: "en",
			Pattern: phrase + `\s+(?:is|are)\s+(?:a\s+)?part\s+of\s+` + tail},
		{Name: "uses", Type: model.RelUses, Language: "en",
			Pattern: phrase + `\s+(?:uses|used|use|is\s+using|relies\s+on|runs\s+on)\s+` + tail},
		{Name: "causes", Type: model.RelCauses, Language: "en",
			Pattern: phrase + `\s+(?:causes|caused|leads\s+to|results\s+in)\s+` + tail},
		{Name: "related_to", Type: model.RelRelatedTo, Language: "en",
			Pattern: phrase + `\s+(?:is|are)\s+(?:related|connected)\s+to\s+` + tail},
		{Name: "integrates_with", Type: model.RelIntegratesWith, Language: "en",
			Pattern: phrase + `\s+(?:integrates|integrated|works)\s+with\s+` + tail},
		{Name: "depends_on", Type: model.RelDependsOn, Language: "en",
			Pattern: phrase + `\s+(?:depends|depend)\s+on\s+` + tail},
		{Name: "created_by", Type: model.RelCreatedBy, Language: "en",
			Pattern: phrase + `\s+(?:was|were|is)\s+(?:created|developed|built|founded)\s+by\s+` + tail},
		{Name: "located_in", Type: model.RelLocatedIn, Language: "en",
			Pattern: phrase + `\s+(?:is|are)\s+(?:located|based|headquartered)\s+in\s+` + tail},
		{Name: "works_for", Type: model.RelWorksFor, Language: "en",
			Pattern: phrase + `\s+works\s+(?:for|at)\s+` + tail},
		{Name: "contains", Type: model.RelContains, Language: "en",
			Pattern: phrase + `\s+(?:contains|includes)\s+` + tail},

		{Name: "is_a_ko", Type: model.RelIsA, Language: "ko",
			Pattern: hangulPhrase + `(?:은|는)\s+` + hangulPhrase + `(?:이다|입니다|이에요|예요|의 일종)`},
		{Name: "part_of_ko", Type: model.RelPartOf, Language: "ko",
			Pattern: hangulPhrase + `(?:은|는|이|가)\s+` + hangulPhrase + `의\s*(?:일부|부분)`},
		{Name: "uses_ko", Type: model.RelUses, Language: "ko",
			Pattern: hangulPhrase + `(?:은|는|이|가)\s+` + hangulPhrase + `(?:을|를)\s*(?:사용|이용|활용)`},
		{Name: "causes_ko", Type: model.RelCauses, Language: "ko",
			Pattern: hangulPhrase + `(?:은|는|이|가)\s+` + hangulPhrase + `(?:을|를)\s*(?:일으킨다|야기|유발|초래)`},
		{Name: "related_to_ko", Type: model.RelRelatedTo, Language: "ko",
			Pattern: hangulPhrase + `(?:은|는|이|가)\s+` + hangulPhrase + `(?:와|과)\s*(?:관련|연관)`},
	}
}
