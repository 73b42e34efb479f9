// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy classifies text that must not reach a knowledge graph,
// such as credentials and personal data.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Public is the classification of text with no findings.
const Public = "public"

// Action is what the builder does with sensitive input.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionRedact Action = "redact"
	ActionReject Action = "reject"
)

// Confidence is how likely a pattern match is a true positive.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch v := Confidence(s); v {
	case High, Medium, Low:
		*c = v
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

// Classification groups patterns under one name, e.g. "secret".
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one regular expression within a Classification.
type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	re *regexp.Regexp
}

type classificationFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Finding is one pattern match. The matched text itself is not kept; Masked
// shows only its first characters.
type Finding struct {
	Line           int        `json:"line"`
	Classification string     `json:"classification"`
	PatternID      string     `json:"pattern_id"`
	Description    string     `json:"description"`
	Confidence     Confidence `json:"confidence"`
	Masked         string     `json:"masked"`
}

// Engine holds compiled classifications, highest priority first.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type Engine struct {
	classifications []Classification
}

// New returns an Engine over DefaultPatterns.
func New() (*Engine, error) {
	return Parse(DefaultPatterns)
}

// Parse compiles a classification file.
func Parse(data []byte) (*Engine, error) {
	var file classificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse classifications: %w", err)
	}
	for i := range file.Classifications {
		c := &file.Classifications[i]
		for j := range c.Patterns {
			p := &c.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %s: %w", p.ID, err)
			}
			p.re = re
		}
	}
	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})
	return &Engine{classifications: file.Classifications}, nil
}

// Classify returns the name of the highest priority classification that
// matches text, or Public.
func (e *Engine) Classify(text string) string {
	for _, c := range e.classifications {
		for _, p := range c.Patterns {
			if p.re.MatchString(text) {
				return c.Name
			}
		}
	}
	return Public
}

// Scan reports every match, line by line. Within a line, findings follow
// classification priority.
func (e *Engine) Scan(text string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(text, "\n") {
		for _, c := range e.classifications {
			for _, p := range c.Patterns {
				for _, m := range p.re.FindAllString(line, -1) {
					findings = append(findings, Finding{
						Line:           i + 1,
						Classification: c.Name,
						PatternID:      p.ID,
						Description:    p.Description,
						Confidence:     p.Confidence,
						Masked:         mask(m),
					})
				}
			}
		}
	}
	return findings
}

// Redact removes every match from text and returns what was removed.
func (e *Engine) Redact(text string) (string, []Finding) {
	findings := e.Scan(text)
	if len(findings) == 0 {
		return text, nil
	}
	for _, c := range e.classifications {
		for _, p := range c.Patterns {
			text = p.re.ReplaceAllString(text, "")
		}
	}
	return text, findings
}

func mask(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= 4 {
		return "****"
	}
	return string(r[:4]) + "****"
}
