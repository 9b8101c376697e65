package rules

import (
	"github.com/BakeLens/shellgate/internal/types"
)

// Analysis is the read-only verdict on one command line: what the sanitizer
// found, and how every invocation classifies under a policy.
type Analysis struct {
	Command    string   `json:"command"`
	Normalized string   `json:"normalized,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Tree       *Tree    `json:"-"`
	Classification
	Highest types.Tier `json:"highest"`
}

// Analyze runs the sanitizer, the parser and the classifier over command.
// A bidirectional control character fails with *ObfuscationError before
// parsing; other sanitizer findings are logged and returned as warnings.
// When normalization changed the text, both the text the shell will run and
// the normalized text are classified and the union of their verdicts
// applies, so a look-alike character can hide a program from neither
// reading. Tree is always the parse of command itself.
func (c *Classifier) Analyze(command string, policy *Policy) (*Analysis, error) {
	san := Sanitize(command)
	if san.HasBidi() {
		log.Warn("rejected command with bidirectional control characters")
		return nil, &ObfuscationError{Warnings: san.Messages()}
	}
	for _, w := range san.Warnings {
		log.Warn("obfuscation (%s): %s", w.Kind, w.Message)
	}

	tree, err := Parse(command)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Command:        command,
		Warnings:       san.Messages(),
		Tree:           tree,
		Classification: c.Classify(tree, policy),
	}
	if san.Normalized != command {
		a.Normalized = san.Normalized
		// Normalizing can turn a look-alike into a real quote and leave the
		// text unbalanced; the shell never sees that text.
		if ntree, err := Parse(san.Normalized); err != nil {
			log.Debug("normalized text does not parse, classifying the original only: %v", err)
		} else {
			a.Classification = a.Classification.merge(c.Classify(ntree, policy))
		}
	}
	a.Highest = a.Classification.Highest()
	log.Debug("analyzed %q: %d invocation(s), highest tier %s, %d external path(s)",
		command, len(a.Decisions), a.Highest, len(a.ExternalPaths))
	return a, nil
}
