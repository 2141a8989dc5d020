package users

import (
	"errors"
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// DefaultMinimumScore is the lowest zxcvbn score (0-4) accepted by default.
const DefaultMinimumScore = 3

const defaultSuggestion = "Add another word or two. Uncommon words are better."

// ErrWeakPassword indicates the password policy rejected the password.
var ErrWeakPassword = errors.New("users: insufficiently secure password")

// PasswordFeedback explains why a password was rejected.
type PasswordFeedback struct {
	Warning     string   `json:"warning"`
	Suggestions []string `json:"suggestions"`
}

// WeakPasswordError carries the policy feedback for a rejected password.
type WeakPasswordError struct {
	Score    int
	Feedback PasswordFeedback
}

func (e *WeakPasswordError) Error() string {
	if e.Feedback.Warning == "" {
		return fmt.Sprintf("%v (score %d)", ErrWeakPassword, e.Score)
	}
	return fmt.Sprintf("%v (score %d): %s", ErrWeakPassword, e.Score, e.Feedback.Warning)
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}

// PasswordPolicy decides whether a password is strong enough. userInputs are
// values such as the username that make a password easier to guess.
type PasswordPolicy interface {
	Check(password string, userInputs []string) error
}

// StrengthPolicy scores passwords with zxcvbn.
type StrengthPolicy struct {
	MinimumScore int
}

// NewStrengthPolicy returns a StrengthPolicy. Scores outside 0-4 select DefaultMinimumScore.
func NewStrengthPolicy(minimumScore int) StrengthPolicy {
	if minimumScore < 0 || minimumScore > 4 {
		minimumScore = DefaultMinimumScore
	}
	return StrengthPolicy{MinimumScore: minimumScore}
}

// Check returns a *WeakPasswordError when the zxcvbn score is below MinimumScore.
func (p StrengthPolicy) Check(password string, userInputs []string) error {
	if password == "" {
		return &WeakPasswordError{Feedback: PasswordFeedback{
			Warning:     "A password is required.",
			Suggestions: []string{defaultSuggestion},
		}}
	}
	result := zxcvbn.PasswordStrength(password, userInputs)
	if result.Score >= p.MinimumScore {
		return nil
	}
	patterns := make([]string, 0, len(result.MatchSequence))
	tokens := make([]string, 0, len(result.MatchSequence))
	for _, matched := range result.MatchSequence {
		patterns = append(patterns, matched.Pattern)
		tokens = append(tokens, matched.Token)
	}
	return &WeakPasswordError{
		Score:    result.Score,
		Feedback: feedbackFor(password, patterns, tokens),
	}
}

// feedbackFor explains the first guessable pattern found in the password.
func feedbackFor(password string, patterns, tokens []string) PasswordFeedback {
	for index, pattern := range patterns {
		switch pattern {
		case "dictionary":
			if tokens[index] == password {
				return PasswordFeedback{
					Warning:     "This is similar to a commonly used password.",
					Suggestions: []string{defaultSuggestion},
				}
			}
			return PasswordFeedback{
				Warning:     "A word by itself is easy to guess.",
				Suggestions: []string{defaultSuggestion, "Capitalization doesn't help very much."},
			}
		case "spatial":
			return PasswordFeedback{
				Warning:     "Straight rows of keys are easy to guess.",
				Suggestions: []string{defaultSuggestion, "Use a longer keyboard pattern with more turns."},
			}
		case "repeat":
			return PasswordFeedback{
				Warning:     `Repeats like "aaa" are easy to guess.`,
				Suggestions: []string{defaultSuggestion, "Avoid repeated words and characters."},
			}
		case "sequence":
			return PasswordFeedback{
				Warning:     "Sequences like abc or 6543 are easy to guess.",
				Suggestions: []string{defaultSuggestion, "Avoid sequences."},
			}
		case "date", "year":
			return PasswordFeedback{
				Warning:     "Dates are often easy to guess.",
				Suggestions: []string{defaultSuggestion, "Avoid dates and years that are associated with you."},
			}
		}
	}
	return PasswordFeedback{
		Warning:     "This password is too easy to guess.",
		Suggestions: []string{defaultSuggestion},
	}
}
