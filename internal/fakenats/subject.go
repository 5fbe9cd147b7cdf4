package fakenats

import "strings"

// subjectMatches reports whether a published subject matches a subscription
// pattern. Tokens are dot separated; "*" matches one token and a trailing
// ">" matches one or more.
func subjectMatches(subject string, pattern string) bool {
	if subject == pattern {
		return true
	}
	if !strings.ContainsAny(pattern, "*>") {
		return false
	}

	subjectTokens := strings.Split(subject, ".")
	patternTokens := strings.Split(pattern, ".")

	for index, token := range patternTokens {
		if token == ">" && index == len(patternTokens)-1 {
			return len(subjectTokens) > index
		}
		if index >= len(subjectTokens) {
			return false
		}
		if token != "*" && token != subjectTokens[index] {
			return false
		}
	}
	return len(subjectTokens) == len(patternTokens)
}

// validSubject rejects empty tokens and wildcards in published subjects.
func validSubject(subject string, allowWildcards bool) bool {
	if subject == "" {
		return false
	}
	tokens := strings.Split(subject, ".")
	for index, token := range tokens {
		if token == "" {
			return false
		}
		if token == "*" || token == ">" {
			if !allowWildcards || (token == ">" && index != len(tokens)-1) {
				return false
			}
		}
	}
	return true
}
