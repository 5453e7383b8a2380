package form

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chain runs validators in order and returns the first message.
func Chain(validators ...Validator) Validator {
	return func(v string) string {
		for _, fn := range validators {
			if fn == nil {
				continue
			}
			if msg := fn(v); msg != "" {
				return msg
			}
		}
		return ""
	}
}

// Required rejects blank values.
func Required(msg string) Validator {
	if msg == "" {
		msg = "This field is required"
	}
	return func(v string) string {
		if strings.TrimSpace(v) == "" {
			return msg
		}
		return ""
	}
}

// MinLength rejects non-empty values shorter than n characters. Emptiness is
// left to Required.
func MinLength(n int) Validator {
	return func(v string) string {
		if v != "" && utf8.RuneCountInString(v) < n {
			return fmt.Sprintf("Must be at least %d characters", n)
		}
		return ""
	}
}

// MaxLength rejects values longer than n characters.
func MaxLength(n int) Validator {
	return func(v string) string {
		if utf8.RuneCountInString(v) > n {
			return fmt.Sprintf("Must be at most %d characters", n)
		}
		return ""
	}
}

// Pattern rejects non-empty values not matching re.
func Pattern(re *regexp.Regexp, msg string) Validator {
	if msg == "" {
		msg = "Invalid format"
	}
	return func(v string) string {
		if v != "" && !re.MatchString(v) {
			return msg
		}
		return ""
	}
}
