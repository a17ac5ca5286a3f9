package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Err.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	t.Parallel()

	ee := Newf("backend not reachable").
		Component("backend").
		Category(CategoryNetwork).
		Priority("bogus").
		Context("operation", "ping").
		Build()

	assert.Equal(t, "backend", ee.GetComponent())
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, PriorityMedium, ee.GetPriority())
	assert.Equal(t, "ping", ee.GetContext()["operation"])
}

func TestIsCategoryThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := ValidationError("recording too short")
	wrapped := fmt.Errorf("upload failed: %w", inner)

	assert.True(t, IsCategory(wrapped, CategoryValidation))
	assert.False(t, IsCategory(wrapped, CategoryNetwork))
	assert.Equal(t, CategoryValidation, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}

func TestDetectCategoryHeuristics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg       string
		component string
		want      ErrorCategory
	}{
		{"timed out reading audio duration", "", CategoryTimeout},
		{"connection refused", "", CategoryNetwork},
		{"invalid WAV header", "", CategoryValidation},
		{"decoder stuck", "myaudio", CategoryAudio},
		{"no page", "wikipedia", CategorySpeciesInfo},
		{"something", "", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, detectCategory(fmt.Errorf("%s", tt.msg), tt.component))
		})
	}
}

func TestLookupComponentPrefersLongestPattern(t *testing.T) {
	t.Parallel()

	got := lookupComponent("github.com/chirpid/chirpid/internal/backendstatus.(*Monitor).Refresh")
	assert.Equal(t, "backendstatus", got)

	got = lookupComponent("github.com/chirpid/chirpid/internal/backend.(*Client).Upload")
	assert.Equal(t, "backend", got)
}

func TestRegexScrubbing(t *testing.T) {
	t.Parallel()

	scrubbed := basicURLScrub("Error at https://api.example.com?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://api.example.com?[REDACTED]", scrubbed)

	scrubbed = basicURLScrub("Config error: api_key=secret123 is invalid")
	assert.Contains(t, scrubbed, "[API_KEY_REDACTED]")

	scrubbed = basicURLScrub("open /home/alice/recordings/clip.wav: no such file")
	assert.False(t, strings.Contains(scrubbed, "alice"))
}

type fakeReporter struct {
	reported []*EnhancedError
}

func (f *fakeReporter) ReportError(err *EnhancedError) {
	f.reported = append(f.reported, err)
	err.MarkReported()
}

func (f *fakeReporter) IsEnabled() bool { return true }

func TestBuildReportsWhenReporterActive(t *testing.T) {
	reporter := &fakeReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("upload failed").Category(CategoryHTTP).Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
}
