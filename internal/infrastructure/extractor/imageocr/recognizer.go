package imageocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

const (
	engineTesseract = "tesseract"
	engineStub      = "ocr-stub"
)

type Config struct {
	// Binary is the tesseract executable; empty selects the stub engine.
	Binary      string
	Lang        string
	TessdataDir string
	PSM         int
}

// Runner lets tests replace the external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec_failed",
			slog.String("cmd", name),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("stderr", truncate(errb.String(), 2048)),
			slog.String("error", err.Error()),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

type Recognizer struct {
	cfg    Config
	runner Runner
}

func New(cfg Config) *Recognizer {
	return NewWithRunner(cfg, execRunner{})
}

func NewWithRunner(cfg Config, runner Runner) *Recognizer {
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Recognizer{cfg: cfg, runner: runner}
}

var boxNoise = regexp.MustCompile(`[|¦]{2,}`)

// Recognize returns the text tesseract reads from the image at path. Without
// a configured binary it returns a deterministic placeholder naming the file.
func (r *Recognizer) Recognize(ctx context.Context, path string) (string, string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", r.engine(), domain.WrapError(domain.ErrValidation, "image ocr", fmt.Errorf("file not found: %s", path))
		}
		return "", r.engine(), domain.WrapError(domain.ErrInternalStage, "image ocr", err)
	}

	if r.cfg.Binary == "" {
		return "OCR stub text for " + filepath.Base(path), engineStub, nil
	}

	args := []string{path, "stdout", "-l", r.cfg.Lang}
	if r.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", r.cfg.PSM))
	}
	if r.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", r.cfg.TessdataDir)
	}

	out, errb, err := r.runner.Run(ctx, r.cfg.Binary, args...)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, truncate(msg, 512))
		}
		return "", engineTesseract, domain.WrapError(domain.ErrInternalStage, "tesseract", err)
	}

	text := boxNoise.ReplaceAllString(string(out), "")
	return strings.TrimSpace(text), engineTesseract, nil
}

func (r *Recognizer) engine() string {
	if r.cfg.Binary == "" {
		return engineStub
	}
	return engineTesseract
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
