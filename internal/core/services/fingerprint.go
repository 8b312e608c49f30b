package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// allPoliciesScope is the key scope for questions asked without a policy filter.
const allPoliciesScope = "_all"

// answerNamespace separates answer keys from anything else sharing the backend.
const answerNamespace = "answer:"

// NormalizeQuestion lowercases, trims and collapses whitespace.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// BuildCacheKey derives the answer-cache key for a question and policy filter.
// Questions differing only in case or whitespace share a key.
func BuildCacheKey(prefix, question, policyID string) domain.CacheKey {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question) + "\x00" + policyID))
	hash := hex.EncodeToString(sum[:])
	return domain.CacheKey{
		Raw:      prefix + answerNamespace + scopeOf(policyID) + ":" + hash,
		PolicyID: policyID,
		Hash:     hash,
	}
}

// ParseCacheKey splits a backend key produced by BuildCacheKey.
func ParseCacheKey(prefix, raw string) (domain.CacheKey, bool) {
	rest, ok := strings.CutPrefix(raw, prefix+answerNamespace)
	if !ok {
		return domain.CacheKey{}, false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return domain.CacheKey{}, false
	}
	scope, hash := rest[:i], rest[i+1:]
	key := domain.CacheKey{Raw: raw, Hash: hash}
	if scope != allPoliciesScope {
		key.PolicyID = scope
	}
	return key, true
}

// answersPattern matches every answer key.
func answersPattern(prefix string) string {
	return escapeGlob(prefix+answerNamespace) + "*"
}

func scopeOf(policyID string) string {
	if policyID == "" {
		return allPoliciesScope
	}
	return policyID
}

// escapeGlob escapes glob metacharacters. Braces are escaped too so the
// pattern means the same to Redis and to in-process matchers.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
