// Package player is the local playback sink: tracks are written to the
// output directory and handed to an external player command on play.
package player

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/protocol"
	"github.com/BioHazard786/syncwave/internal/utils"
)

var ErrNothingLoaded = errors.New("no track loaded")

var extensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"audio/aiff":      ".aiff",
	"audio/basic":     ".au",
	"audio/midi":      ".mid",
	"video/mp4":       ".m4a",
	"video/webm":      ".webm",
}

// FilePlayer saves every loaded track and plays the latest one.
type FilePlayer struct {
	dir     string
	command []string
	logger  *zap.Logger

	mu      sync.Mutex
	current string
	proc    *exec.Cmd
}

// New returns a player writing into dir. command is split on spaces and the
// track path appended; an empty command only logs where the track is.
func New(dir, command string, logger *zap.Logger) *FilePlayer {
	return &FilePlayer{
		dir:     dir,
		command: strings.Fields(command),
		logger:  logger,
	}
}

// Load validates data as audio and writes it to the output directory.
func (p *FilePlayer) Load(title string, data []byte) error {
	ext, err := sniff(title, data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	name := utils.SafeFilename(strings.TrimSuffix(title, filepath.Ext(title))) + ext
	path := utils.UniqueFilename(filepath.Join(p.dir, name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write track: %w", err)
	}

	p.mu.Lock()
	p.current = path
	p.mu.Unlock()

	p.logger.Info("track saved", zap.String("path", path), zap.String("size", utils.FormatSize(int64(len(data)))))
	return nil
}

// sniff rejects data that is clearly not audio and picks a file extension.
func sniff(title string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty track", protocol.ErrPayloadDecode)
	}
	ctype := http.DetectContentType(data)
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	if strings.HasPrefix(ctype, "text/") {
		return "", fmt.Errorf("%w: got %s", protocol.ErrPayloadDecode, ctype)
	}
	if ext, ok := extensions[ctype]; ok {
		return ext, nil
	}
	if ext := filepath.Ext(title); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext), nil
	}
	return ".audio", nil
}

// Current returns the path of the latest loaded track.
func (p *FilePlayer) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Play starts the latest track, stopping one still playing.
func (p *FilePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == "" {
		return ErrNothingLoaded
	}
	if len(p.command) == 0 {
		p.logger.Info("play", zap.String("path", p.current))
		return nil
	}

	if p.proc != nil && p.proc.Process != nil {
		p.proc.Process.Kill()
	}

	args := append(p.command[1:len(p.command):len(p.command)], p.current)
	cmd := exec.Command(p.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	p.proc = cmd
	go cmd.Wait()

	p.logger.Info("playing", zap.String("path", p.current), zap.String("player", p.command[0]))
	return nil
}

// Stop kills the running player, if any.
func (p *FilePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != nil && p.proc.Process != nil {
		p.proc.Process.Kill()
		p.proc = nil
	}
}
