package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgressBar(t *testing.T) {
	bar := NewProgressBar(&bytes.Buffer{}, "Verify")

	require.NotNil(t, bar)
	assert.Equal(t, "Verify", bar.title)
	assert.Equal(t, 40, bar.width)
}

func TestProgressBar_Update(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewProgressBar(buf, "Verify")

	bar.Update(5, 10)

	output := buf.String()
	assert.Contains(t, output, "Verify")
	assert.Contains(t, output, "50%")
	assert.Contains(t, output, "(5/10)")
}

func TestProgressBar_Increment(t *testing.T) {
	bar := NewProgressBar(&bytes.Buffer{}, "Verify")

	bar.SetTotal(100)
	bar.Increment(25)
	bar.Increment(25)

	assert.Equal(t, 50, bar.current)
}

func TestProgressBar_Finish(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewProgressBar(buf, "Verify")

	bar.SetTotal(4)
	bar.Update(1, 4)
	bar.Finish()

	output := buf.String()
	assert.Contains(t, output, "100%")
	assert.Contains(t, output, "(4/4)")
	assert.True(t, strings.HasSuffix(output, "\n"), "Finish should end the line")
}

func TestProgressBar_Overflow(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewProgressBar(buf, "Verify")

	bar.Update(12, 10)
	assert.Contains(t, buf.String(), "100%", "capped percentage")
}

func TestProgressBar_UnknownTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewProgressBar(buf, "Scan")

	bar.Update(7, 0)

	assert.Equal(t, "\rScan 7", buf.String())
}
