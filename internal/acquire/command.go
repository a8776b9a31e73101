package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// CommandFetcher delegates to a yt-dlp compatible extractor, which handles
// page links (video sites and the like) that are not direct media files.
type CommandFetcher struct {
	command   string
	validator Validator
	maxBytes  int64
	logger    *zap.Logger
}

// NewCommandFetcher returns a fetcher that runs command for each reference.
func NewCommandFetcher(command string, maxBytes int64, validator Validator, logger *zap.Logger) *CommandFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &CommandFetcher{
		command:   command,
		validator: validator,
		maxBytes:  maxBytes,
		logger:    logger.With(zap.String("command", command)),
	}
}

// Fetch implements Fetcher.
func (f *CommandFetcher) Fetch(ctx context.Context, reference string, started StartFunc) (*Track, error) {
	u, err := f.validator.Validate(ctx, reference)
	if err != nil {
		return nil, err
	}
	ref := u.String()

	title := f.title(ctx, ref)
	started.notify(title)

	cmd := exec.CommandContext(ctx, f.command,
		"--no-playlist",
		"--quiet", "--no-warnings",
		"-f", "bestaudio",
		"--max-filesize", fmt.Sprintf("%d", f.maxBytes),
		"-o", "-",
		ref,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrFetchFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrFetchFailed, f.command, err)
	}

	data, readErr := readLimited(stdout, f.maxBytes)
	if readErr != nil {
		// Stop the extractor if we bailed out early on the size cap.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		f.logger.Warn("extractor failed",
			zap.Error(waitErr),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, f.command, waitErr)
	}

	f.logger.Info("media extracted", zap.String("title", title), zap.Int("bytes", len(data)))
	return &Track{Title: title, Data: data}, nil
}

func (f *CommandFetcher) title(ctx context.Context, ref string) string {
	out, err := exec.CommandContext(ctx, f.command, "--no-playlist", "--quiet", "--get-title", ref).Output()
	if err != nil {
		f.logger.Debug("title lookup failed", zap.Error(err))
		return ref
	}
	if t := strings.TrimSpace(string(out)); t != "" {
		return t
	}
	return ref
}
