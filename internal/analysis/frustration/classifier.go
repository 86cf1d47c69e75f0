// Package frustration classifies inbound chat text for signs that the
// visitor needs a human instead of the assistant. The classifier is a
// heuristic table of phrase and structural rules, not a model: any single
// matching rule is enough to flag the message.
package frustration

import (
	"strings"
	"unicode"
)

// Signal names why a message was flagged.
type Signal string

const (
	SignalFrustrationWord Signal = "frustration_word"
	SignalNegativeOutcome Signal = "negative_outcome"
	SignalHumanRequest    Signal = "human_request"
	SignalComplaint       Signal = "complaint"
	SignalPunctuationRun  Signal = "punctuation_run"
	SignalCapsRun         Signal = "caps_run"
)

// Result is the classification outcome. Signals lists every rule that
// matched; Frustrated is true if at least one did.
type Result struct {
	Frustrated bool
	Signals    []Signal
}

// PhraseRule is one substring rule: any phrase hit raises the signal.
type PhraseRule struct {
	Signal  Signal
	Phrases []string
}

// Classifier evaluates the configured rule set against message text.
// The phrase tables are data, not control flow: operators extend them
// through configuration without touching this package.
type Classifier struct {
	rules []PhraseRule
}

// DefaultRules returns the curated pt-BR phrase tables shipped with the
// widget. Wording is policy; callers may replace or extend any table.
func DefaultRules() []PhraseRule {
	return []PhraseRule{
		{
			Signal: SignalFrustrationWord,
			Phrases: []string{
				"frustrado", "frustrada", "irritado", "irritada", "cansado disso",
				"cansada disso", "que raiva", "que absurdo", "ridículo", "ridicula",
				"péssimo", "pessimo", "horrível", "horrivel", "droga", "inaceitável",
			},
		},
		{
			Signal: SignalNegativeOutcome,
			Phrases: []string{
				"não funciona", "nao funciona", "não resolve", "nao resolve",
				"não consigo", "nao consigo", "deu errado", "não ajudou", "nao ajudou",
				"continua com erro", "nada funciona", "perdi meu tempo",
			},
		},
		{
			Signal: SignalHumanRequest,
			Phrases: []string{
				"falar com um atendente", "falar com atendente", "falar com uma pessoa",
				"quero um humano", "atendimento humano", "suporte humano",
				"falar com alguém", "falar com alguem", "pessoa de verdade",
			},
		},
		{
			Signal: SignalComplaint,
			Phrases: []string{
				"já disse", "ja disse", "de novo", "pela terceira vez", "quantas vezes",
				"vou cancelar", "quero reclamar", "vou reclamar", "procon",
			},
		},
	}
}

// NewClassifier builds a classifier over the given rule set; nil means the
// default pt-BR tables.
func NewClassifier(rules []PhraseRule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify runs every rule against the text. Rules are OR'd: the message is
// frustrated when any phrase or structural check fires.
func (c *Classifier) Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Result{}
	}

	var signals []Signal
	for _, rule := range c.rules {
		for _, phrase := range rule.Phrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(normalized, strings.ToLower(phrase)) {
				signals = append(signals, rule.Signal)
				break
			}
		}
	}

	if hasPunctuationRun(text, 3) {
		signals = append(signals, SignalPunctuationRun)
	}
	if hasCapsRun(text, 5) {
		signals = append(signals, SignalCapsRun)
	}

	return Result{Frustrated: len(signals) > 0, Signals: signals}
}

// hasPunctuationRun reports a run of at least n consecutive '!' or '?'.
func hasPunctuationRun(text string, n int) bool {
	run := 0
	for _, r := range text {
		if r == '!' || r == '?' {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// hasCapsRun reports at least n consecutive all-caps words. Single-letter
// words do not count; "EU NÃO CONSIGO USAR ISSO AQUI" should trip, "Ok A" not.
func hasCapsRun(text string, n int) bool {
	run := 0
	for _, word := range strings.Fields(text) {
		if isShoutedWord(word) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isShoutedWord(word string) bool {
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return letters >= 2
}
