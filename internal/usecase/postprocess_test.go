package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractDiagram(t *testing.T) {
	reply := "Water moves in a loop.\n\n```mermaid\ngraph TD\n  A[Ocean] --> B[Cloud]\n  B --> C[Rain]\n```\n\nThat is the water cycle."
	prose, diagram, ok := ExtractDiagram(reply)
	require.True(t, ok)
	require.Equal(t, "graph TD\n  A[Ocean] --> B[Cloud]\n  B --> C[Rain]", diagram)
	require.Equal(t, "Water moves in a loop.\n\nThat is the water cycle.", prose)
}

func TestExtractDiagram_OnlyFirstBlock(t *testing.T) {
	reply := "One:\n```mermaid\ngraph LR\n  A-->B\n```\nTwo:\n```mermaid\ngraph LR\n  C-->D\n```"
	prose, diagram, ok := ExtractDiagram(reply)
	require.True(t, ok)
	require.Equal(t, "graph LR\n  A-->B", diagram)
	require.Contains(t, prose, "C-->D")
}

func TestExtractDiagram_NoDiagram(t *testing.T) {
	for _, reply := range []string{
		"Plain answer.",
		"```python\nprint('hi')\n```",
		"```mermaid\n\n```",
	} {
		prose, diagram, ok := ExtractDiagram(reply)
		require.False(t, ok)
		require.Empty(t, diagram)
		require.Equal(t, reply, prose)
	}
}

func TestNormalizeMath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`Area is \(\pi r^2\).`, `Area is $\pi r^2$.`},
		{"Solve:\n\\[ x^2 = 4 \\]", "Solve:\n$$ x^2 = 4 $$"},
		{`Mixed \(a\) and \[b\]`, `Mixed $a$ and $$b$$`},
		{"Already $x$ fine", "Already $x$ fine"},
		{"Costs $5 and $6", "Costs $5 and $6"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeMath(tc.in))
	}
}
