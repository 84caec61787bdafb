package context

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPath(t *testing.T) {
	cases := []struct {
		path string
		want ContentClass
	}{
		{"main.go", ClassCode},
		{"src/app.py", ClassCode},
		{"lib/index.ts", ClassCode},
		{"config.json", ClassData},
		{"deploy.yaml", ClassData},
		{"Cargo.toml", ClassData},
		{"README.md", ClassProse},
		{"notes.unknownext", ClassMixed},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyPath(tc.path))
		})
	}
}

func TestEstimatorPerClassRates(t *testing.T) {
	est := NewEstimator()

	t.Run("code is denser than prose", func(t *testing.T) {
		code := strings.Repeat("func doWork(ctx context.Context) error { return nil }\n", 20)
		prose := strings.Repeat("The quick brown fox jumps over the lazy dog near the river.\n", 20)

		codeTokens := est.ForFile("work.go", "", []byte(code))
		proseTokens := est.ForFile("work.md", "", []byte(prose))
		assert.Greater(t, codeTokens, 0)
		assert.Greater(t, proseTokens, 0)

		// Same byte count should cost more tokens as code than as prose.
		sample := strings.Repeat("x := compute(a, b) + offset\n", 40)
		asCode := est.ForFile("sample.go", "", []byte(sample))
		asProse := est.ForFile("sample.md", "", []byte(sample))
		assert.Greater(t, asCode, asProse)
	})

	t.Run("empty content is zero", func(t *testing.T) {
		assert.Zero(t, est.ForFile("empty.go", "", nil))
		assert.Zero(t, EstimateText(""))
	})

	t.Run("appending content never lowers the estimate", func(t *testing.T) {
		base := "let total = items.reduce((a, b) => a + b.cost, 0);\n"
		text := ""
		prev := 0
		for i := 0; i < 50; i++ {
			text += base
			got := est.ForFile("calc.js", "", []byte(text))
			assert.GreaterOrEqual(t, got, prev)
			prev = got
		}
	})
}

func TestEstimatorMemoizesBySignature(t *testing.T) {
	est := NewEstimator()
	content := []byte("package demo\n\nfunc Demo() {}\n")
	sig := SignatureOf(content)

	first := est.ForFile("demo.go", sig, content)
	assert.Greater(t, first, 0)

	// Same signature short-circuits even if the caller passes no content.
	again := est.ForFile("demo.go", sig, nil)
	assert.Equal(t, first, again)

	// A different signature is a fresh computation.
	other := append([]byte{}, content...)
	other = append(other, []byte("\nfunc More() {}\n")...)
	more := est.ForFile("demo.go", SignatureOf(other), other)
	assert.Greater(t, more, first)
}

func TestEstimateTextFallsBackToContentHeuristics(t *testing.T) {
	code := "func main() {\n\tfmt.Println(userName)\n\treturn\n}\n"
	json := `{"name": "demo", "values": [1, 2, 3], "nested": {"ok": true}}`
	prose := "Plain sentences with ordinary words and no punctuation tricks at all."

	assert.Greater(t, EstimateText(code), 0)
	assert.Greater(t, EstimateText(json), 0)
	assert.Greater(t, EstimateText(prose), 0)
}
