// Package tokens provides token accounting for diff requests: a byte-based
// chars/4 estimate, an exact tokenizer-backed Counter with a bounded memo
// cache, and the Budget that bounds a single request to the generation backend.
package tokens

import (
	"fmt"
	"math"
)

// charsPerToken is the divisor for the simple byte-based estimator
// (roughly 4 bytes per token for typical English/code).
const charsPerToken = 4

// DefaultWarnThreshold is the fraction of the input ceiling at which
// WarnIfOver starts reporting.
const DefaultWarnThreshold = 0.9

// Estimate returns ceil(len(text)/4). Empty string returns 0.
// It is used for coarse decisions and for inputs too large to tokenize exactly.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// WarnIfOver returns a non-empty warning string when the total tokens
// (promptTokens + responseReserve) meet or exceed warnThreshold of
// contextLimit. If contextLimit <= 0, returns "".
func WarnIfOver(promptTokens, responseReserve, contextLimit int, warnThreshold float64) string {
	if contextLimit <= 0 {
		return ""
	}
	if promptTokens < 0 || responseReserve < 0 {
		return ""
	}
	if responseReserve > math.MaxInt-promptTokens {
		return fmt.Sprintf("token count overflow (prompt %d + reserve %d)", promptTokens, responseReserve)
	}
	total := promptTokens + responseReserve
	limit := float64(contextLimit) * warnThreshold
	threshold := int(limit)
	if limit > float64(threshold) {
		threshold++
	}
	if total < threshold {
		return ""
	}
	pct := warnThreshold * 100
	return fmt.Sprintf("request tokens %d (prompt %d + reserve %d) exceeds %.0f%% of max input tokens %d",
		total, promptTokens, responseReserve, pct, contextLimit)
}
