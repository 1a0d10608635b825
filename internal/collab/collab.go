// Package collab adapts external worker commands to the collaborator
// interfaces consumed by the pipeline. Each collaborator is a shell
// command; the decomposer reads the document snapshot on stdin and
// writes a backlog document on stdout, the unit executor receives one
// leaf's contract on stdin, and the verifier prints a bug count.
//
// The commands' internals are opaque to the core; this package only
// moves bytes across the process boundary.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// Environment variables exposed to the unit executor command.
const (
	envNodeID      = "BACKLOGD_NODE_ID"
	envNodeTitle   = "BACKLOGD_NODE_TITLE"
	envStoryPoints = "BACKLOGD_STORY_POINTS"
	envArtifactDir = "BACKLOGD_ARTIFACT_DIR"
)

// run invokes a worker command. The worker always runs to completion:
// shutdown is cooperative, so cancellation stops future invocations but
// never kills an in-flight worker.
func run(_ context.Context, command string, stdin []byte, extraEnv []string) ([]byte, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(cmd.Environ(), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command %q failed: %w (stderr: %s)", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// CommandDecomposer invokes a decomposition command. The command reads
// the document snapshot on stdin and must emit a backlog document in
// canonical YAML on stdout; structural validation stays with the
// pipeline.
type CommandDecomposer struct {
	Command string
	Logger  *zap.Logger
}

// NewCommandDecomposer creates a decomposer adapter for command.
func NewCommandDecomposer(command string, logger *zap.Logger) *CommandDecomposer {
	return &CommandDecomposer{Command: command, Logger: orNop(logger)}
}

// Decompose implements pipeline.Decomposer.
func (d *CommandDecomposer) Decompose(ctx context.Context, documentSnapshot []byte) (*backlog.Backlog, error) {
	out, err := run(ctx, d.Command, documentSnapshot, nil)
	if err != nil {
		return nil, err
	}
	var b backlog.Backlog
	if err := yaml.Unmarshal(out, &b); err != nil {
		return nil, fmt.Errorf("decomposer output is not a backlog document: %w", err)
	}
	orNop(d.Logger).Debug("decomposer produced backlog", zap.Int("phases", len(b.Phases)))
	return &b, nil
}

// CommandExecutor invokes a unit-of-work command once per leaf attempt.
// The leaf's context scope arrives on stdin; identifying fields and the
// artifact directory are passed through the environment. A non-zero
// exit marks the attempt failed.
type CommandExecutor struct {
	Command     string
	Logger      *zap.Logger
	ArtifactDir func(nodeID string) (string, error)
}

// NewCommandExecutor creates a unit executor adapter for command.
// artifactDir resolves the per-node artifact directory; it may be nil.
func NewCommandExecutor(command string, logger *zap.Logger, artifactDir func(nodeID string) (string, error)) *CommandExecutor {
	return &CommandExecutor{Command: command, Logger: orNop(logger), ArtifactDir: artifactDir}
}

// Execute implements orchestrator.UnitExecutor.
func (e *CommandExecutor) Execute(ctx context.Context, leaf *backlog.Subtask) error {
	env := []string{
		envNodeID + "=" + leaf.ID,
		envNodeTitle + "=" + leaf.Title,
		envStoryPoints + "=" + strconv.Itoa(leaf.StoryPoints),
	}
	if e.ArtifactDir != nil {
		dir, err := e.ArtifactDir(leaf.ID)
		if err != nil {
			return err
		}
		env = append(env, envArtifactDir+"="+dir)
	}

	_, err := run(ctx, e.Command, []byte(leaf.ContextScope), env)
	if err != nil {
		return err
	}
	orNop(e.Logger).Debug("unit executor finished", zap.String("node_id", leaf.ID))
	return nil
}

// CommandVerifier invokes a verification command over the completed
// backlog and parses a bug count from the first line of its output.
type CommandVerifier struct {
	Command string
	Logger  *zap.Logger
}

// NewCommandVerifier creates a verifier adapter for command.
func NewCommandVerifier(command string, logger *zap.Logger) *CommandVerifier {
	return &CommandVerifier{Command: command, Logger: orNop(logger)}
}

// Verify implements pipeline.Verifier.
func (v *CommandVerifier) Verify(ctx context.Context, b *backlog.Backlog) (int, error) {
	data, err := backlog.Marshal(b)
	if err != nil {
		return 0, err
	}
	out, err := run(ctx, v.Command, data, nil)
	if err != nil {
		return 0, err
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	bugs, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("verifier output %q is not a bug count: %w", line, err)
	}
	if bugs < 0 {
		return 0, fmt.Errorf("verifier reported negative bug count %d", bugs)
	}
	return bugs, nil
}
