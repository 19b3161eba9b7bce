package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatHelpers(t *testing.T) {
	assert.Contains(t, FormatSuccess("done"), "done")
	assert.Contains(t, FormatError("boom"), "boom")
	assert.Contains(t, FormatWarning("careful"), "careful")
	assert.Contains(t, FormatInfo("note"), "note")
}

func TestFormatKeyValue(t *testing.T) {
	out := FormatKeyValue("Subject", "CacaoBatch-b1")
	assert.Contains(t, out, "Subject:")
	assert.Contains(t, out, "CacaoBatch-b1")
}

func TestDivider(t *testing.T) {
	out := Divider(10)
	assert.NotEmpty(t, out)
}

func TestBanner(t *testing.T) {
	assert.Contains(t, Banner(), "cacaotrail")
}
