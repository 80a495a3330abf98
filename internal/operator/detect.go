package operator

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
	bareDomainRegex = regexp.MustCompile(`^(?:www\.)?[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*\.[a-zA-Z]{2,}(?:/\S*)?$`)
	questionWords   = []string{
		"who", "what", "when", "where", "why", "how", "which",
		"is", "are", "does", "do", "can", "find", "search", "lookup", "look up",
	}
)

// DetectOperatorType은 내용의 형태로 operator를 추정합니다.
// URL이면 url_context, 질문 형태면 google_search, 그 외에는 structured_output입니다.
func DetectOperatorType(content string) string {
	text := strings.TrimSpace(content)
	if text == "" {
		return TypeStructuredOutput
	}
	if urlPattern.MatchString(text) || bareDomainRegex.MatchString(text) {
		return TypeURLContext
	}
	if looksLikeQuestion(text) {
		return TypeGoogleSearch
	}
	return TypeStructuredOutput
}

func looksLikeQuestion(text string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range questionWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+":") {
			return true
		}
	}
	return false
}

// ExtractURLs는 텍스트에서 URL을 순서대로 중복 없이 추출합니다.
// 스킴 없는 도메인은 https://를 붙입니다.
func ExtractURLs(texts ...string) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimRight(u, ".,;:")
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, text := range texts {
		matches := urlPattern.FindAllString(text, -1)
		for _, m := range matches {
			add(m)
		}
		if len(matches) == 0 {
			trimmed := strings.TrimSpace(text)
			if bareDomainRegex.MatchString(trimmed) {
				add("https://" + trimmed)
			}
		}
	}
	return urls
}
