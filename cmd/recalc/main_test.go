package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/evaluator"
)

func runScript(t *testing.T, script string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(script), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestBatchPrintsValues(t *testing.T) {
	code, out, errOut := runScript(t, "A1 = 2\nA2 = A1*3\nB1 = \"hi\"\n")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Sheet1!A1 2\nSheet1!A2 6  =A1*3\nSheet1!B1 hi\n", out)
}

func TestBatchReportsBadLines(t *testing.T) {
	code, out, errOut := runScript(t, "# comment\n\nnot an assignment\nA1 = 1\n")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "stdin:3:")
	assert.Equal(t, "Sheet1!A1 1\n", out, "later lines still run")
}

func TestBatchQuit(t *testing.T) {
	code, out, _ := runScript(t, "A1 = 1\n:quit\nA2 = 2\n")
	assert.Equal(t, 0, code)
	assert.Empty(t, out)
}

func TestBatchNamesAndDocuments(t *testing.T) {
	code, out, errOut := runScript(t, ":name rate = 0.5\nA1 = rate*10\n:doc Other\nA1 = 3\n", "-doc", "Main")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Main!A1 5")
	assert.Contains(t, out, "Other!A1 3\n")
}

func TestBatchClearCell(t *testing.T) {
	code, out, errOut := runScript(t, "A1 = 1\nA2 = 2\nA1 =\n")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Sheet1!A2 2\n", out)
}

func TestScriptFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.rc")
	second := filepath.Join(dir, "second.rc")
	require.NoError(t, os.WriteFile(first, []byte("A1 = 4"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("A2 = A1+1\n"), 0o644))

	code, out, errOut := runScript(t, "A3 = 99\n", first, second)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Sheet1!A1 4\nSheet1!A2 5  =A1+1\n", out, "stdin is ignored when files are given")

	code, _, errOut = runScript(t, "", filepath.Join(dir, "missing.rc"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "missing.rc")
}

func TestBadFlag(t *testing.T) {
	code, _, errOut := runScript(t, "", "-nope")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "usage: recalc")
}

func TestLiteral(t *testing.T) {
	cases := []struct {
		text string
		want evaluator.Value
		ok   bool
	}{
		{"12", evaluator.Integer(12), true},
		{"-3", evaluator.Integer(-3), true},
		{"2.5", evaluator.Real(2.5), true},
		{"1e3", evaluator.Real(1000), true},
		{`"a ""b"""`, evaluator.String(`a "b"`), true},
		{"A1+1", nil, false},
		{`"open`, nil, false},
		{"inf", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got, ok := literal(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
