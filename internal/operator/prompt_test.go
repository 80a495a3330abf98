package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleInput() *Input {
	return &Input{
		RowIndex:    0,
		SourceIndex: 1,
		Columns: []Column{
			{Position: 0, Title: "Company"},
			{Position: 1, Title: "Website"},
			{Position: 2, Title: "Summary", DataType: "text"},
		},
		Target: Column{
			Position:     2,
			Title:        "Summary",
			DataType:     "text",
			Prompt:       "Summarise {{Company}} using {{1}}.",
			Dependencies: []int{1, 0},
		},
		RowData: map[int]string{0: "Acme", 1: "https://acme.test"},
	}
}

func TestInput_DependencyValues(t *testing.T) {
	in := sampleInput()

	values := in.DependencyValues()
	assert.Equal(t, []ColumnValue{
		{Position: 0, Title: "Company", Content: "Acme"},
		{Position: 1, Title: "Website", Content: "https://acme.test"},
	}, values)
	assert.Equal(t, []int{1, 0}, in.Target.Dependencies, "dependencies must not be reordered in place")

	in.Target.Dependencies = nil
	in.RowData[0] = ""
	values = in.DependencyValues()
	assert.Len(t, values, 1)
	assert.Equal(t, "Website", values[0].Title)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(sampleInput())

	assert.Contains(t, prompt, "Summarise Acme using https://acme.test.")
	assert.Contains(t, prompt, "- Company: Acme\n")
	assert.Contains(t, prompt, "- Website: https://acme.test\n")
	assert.Contains(t, prompt, `Fill the column "Summary" (type: text).`)
}

func TestBuildPrompt_UnknownPlaceholderKept(t *testing.T) {
	in := sampleInput()
	in.Target.Prompt = "Use {{Nope}}"
	assert.Contains(t, BuildPrompt(in), "Use {{Nope}}")
}

func TestSystemInstruction(t *testing.T) {
	assert.Nil(t, SystemInstruction("  "))
	si := SystemInstruction("be brief")
	if assert.NotNil(t, si) {
		assert.Equal(t, "be brief", si.Parts[0].Text)
	}
}
