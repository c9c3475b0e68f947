package cmd

import (
	"fmt"
	"github.com/davidpm1021/TriviaBot/triviabot"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := triviabot.Version
	originalCommitSHA := triviabot.CommitSHA
	originalBuildTime := triviabot.BuildTime

	t.Cleanup(
		func() {
			triviabot.Version = originalVersion
			triviabot.CommitSHA = originalCommitSHA
			triviabot.BuildTime = originalBuildTime
		},
	)

	triviabot.Version = "1.0.0"
	triviabot.CommitSHA = "abc123"
	triviabot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		triviabot.Version,
		triviabot.CommitSHA,
		triviabot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
