package mailbox

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/model"
)

var (
	codeKeywords = []string{
		"code", "otp", "verification", "verify", "passcode", "password", "pin", "token",
		"验证码", "校验码", "动态码",
	}
	numericCode = regexp.MustCompile(`\b\d{4,8}\b`)
	alnumCode   = regexp.MustCompile(`\b[A-Za-z0-9]{6,8}\b`)
	hasDigit    = regexp.MustCompile(`\d`)
	hasLetter   = regexp.MustCompile(`[A-Za-z]`)
)

// codeWindow is how far, in bytes, a code may sit from a keyword.
const codeWindow = 80

// ExtractCodes pulls likely one-time codes out of an email. Only candidates
// close to a verification keyword count. Numeric codes come first.
func ExtractCodes(email model.Email) []string {
	text := email.Subject + "\n" + email.Body
	lower := strings.ToLower(text)
	anchors := keywordOffsets(lower)
	if len(anchors) == 0 {
		return []string{}
	}
	near := func(loc []int) bool {
		return lo.SomeBy(anchors, func(a int) bool {
			return abs(loc[0]-a) <= codeWindow
		})
	}
	out := make([]string, 0)
	for _, loc := range numericCode.FindAllStringIndex(text, -1) {
		if near(loc) {
			out = append(out, text[loc[0]:loc[1]])
		}
	}
	for _, loc := range alnumCode.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		if !hasDigit.MatchString(candidate) || !hasLetter.MatchString(candidate) {
			continue
		}
		if near(loc) {
			out = append(out, candidate)
		}
	}
	return lo.Uniq(out)
}

func keywordOffsets(lower string) []int {
	offsets := make([]int, 0)
	for _, kw := range codeKeywords {
		start := 0
		for {
			idx := strings.Index(lower[start:], kw)
			if idx < 0 {
				break
			}
			offsets = append(offsets, start+idx)
			start += idx + len(kw)
		}
	}
	return offsets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
