package autoapprove

import "regexp"

// sensitivePattern is one named redaction rule applied to pane content
// before it is included in any judgment prompt.
type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

var sanitizePatterns = []sensitivePattern{
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`)},
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"github_token", regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{30,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"generic_bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.]{20,}`)},
	{"private_key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`)},
}

// Sanitize redacts sensitive token patterns from content so they never
// reach a judgment provider. The anthropic pattern runs before the generic
// openai one because the latter's prefix is a subset of the former's.
func Sanitize(content string) string {
	for _, p := range sanitizePatterns {
		content = p.re.ReplaceAllString(content, "[REDACTED:"+p.name+"]")
	}
	return content
}
