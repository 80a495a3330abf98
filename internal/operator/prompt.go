package operator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// BuildPrompt는 대상 컬럼의 프롬프트와 행 컨텍스트로 사용자 프롬프트를 만듭니다.
// 프롬프트의 {{컬럼 제목}} 또는 {{position}} 자리표시자는 행의 값으로 치환됩니다.
func BuildPrompt(in *Input) string {
	var sb strings.Builder

	if p := strings.TrimSpace(in.Target.Prompt); p != "" {
		sb.WriteString(expandPlaceholders(p, in))
		sb.WriteString("\n\n")
	}

	values := in.DependencyValues()
	if len(values) > 0 {
		sb.WriteString("Row context:\n")
		for _, v := range values {
			fmt.Fprintf(&sb, "- %s: %s\n", v.Title, v.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Fill the column %q", in.Target.Title)
	if in.Target.DataType != "" {
		fmt.Fprintf(&sb, " (type: %s)", in.Target.DataType)
	}
	sb.WriteString(". Respond with only the cell value, no explanation.")
	return sb.String()
}

// SystemInstruction은 시스템 프롬프트를 Content로 변환합니다. 비어 있으면 nil입니다.
func SystemInstruction(prompt string) *Content {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	return &Content{Parts: []Part{{Text: prompt}}}
}

// UserContent는 단일 사용자 메시지를 만듭니다.
func UserContent(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

func expandPlaceholders(prompt string, in *Input) string {
	return placeholderPattern.ReplaceAllStringFunc(prompt, func(m string) string {
		key := strings.TrimSpace(placeholderPattern.FindStringSubmatch(m)[1])
		if pos, err := strconv.Atoi(key); err == nil {
			if v, ok := in.RowData[pos]; ok {
				return v
			}
			return ""
		}
		for _, c := range in.Columns {
			if strings.EqualFold(c.Title, key) {
				return in.RowData[c.Position]
			}
		}
		return m
	})
}
