package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/subtitle"
	"github.com/MimeLyc/batch-transcriber/pkg/file"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"golang.org/x/text/language"
)

var (
	durationRe     = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	detectedLangRe = regexp.MustCompile(`auto-detected language:\s*([a-z]{2,3})`)
)

// WhisperConfig selects the whisper.cpp binary, model and runtime options.
type WhisperConfig struct {
	WhisperBin   string
	FFmpegBin    string
	ModelPath    string
	VADModelPath string
	Model        string
	Device       string
	ComputeType  string
	Threads      int
}

// WhisperCLI runs whisper.cpp as a subprocess. Inputs are first normalized
// to 16 kHz mono PCM with ffmpeg when it is available.
type WhisperCLI struct {
	whisperPath string
	ffmpegPath  string
	cfg         WhisperConfig
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
}

// NewWhisperCLI resolves binaries and checks the model file so a broken
// setup fails at process start instead of on the first job.
func NewWhisperCLI(cfg WhisperConfig) (*WhisperCLI, error) {
	return newWhisperCLI(cfg, execRunner{}, exec.LookPath)
}

func newWhisperCLI(cfg WhisperConfig, runner commandRunner, lookPath func(string) (string, error)) (*WhisperCLI, error) {
	if strings.TrimSpace(cfg.WhisperBin) == "" {
		return nil, fmt.Errorf("whisper binary is required")
	}
	whisperPath, err := lookPath(cfg.WhisperBin)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q not found: %w", cfg.WhisperBin, err)
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper model %s: %w", cfg.ModelPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("whisper model %s is a directory", cfg.ModelPath)
	}

	var ffmpegPath string
	if cfg.FFmpegBin != "" {
		if p, err := lookPath(cfg.FFmpegBin); err == nil {
			ffmpegPath = p
		} else {
			log.Warn("ffmpeg %q not found, audio will be passed to whisper unchanged", cfg.FFmpegBin)
		}
	}

	return &WhisperCLI{
		whisperPath: whisperPath,
		ffmpegPath:  ffmpegPath,
		cfg:         cfg,
		runner:      runner,
		mkdirTemp:   os.MkdirTemp,
	}, nil
}

func (w *WhisperCLI) Info() jobs.EngineInfo {
	return jobs.EngineInfo{
		Model:       w.cfg.Model,
		Device:      w.cfg.Device,
		ComputeType: w.cfg.ComputeType,
	}
}

func (w *WhisperCLI) Transcribe(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return nil, jobs.Wrap(err, jobs.KindInvalidInput, "input audio is not readable").
			WithContext("path", req.AudioPath)
	}
	if info.IsDir() {
		return nil, jobs.NewError(jobs.KindInvalidInput, "input audio is a directory").
			WithContext("path", req.AudioPath)
	}

	workDir, err := w.mkdirTemp("", "transcribe-*")
	if err != nil {
		return nil, jobs.Wrap(err, jobs.KindInternal, "create work directory")
	}
	defer os.RemoveAll(workDir)

	audioPath, duration := w.normalize(ctx, req.AudioPath, workDir)
	if err := ctx.Err(); err != nil {
		return nil, classifyContext(err)
	}

	outBase := filepath.Join(workDir, "transcript")
	res, runErr := w.runner.Run(ctx, w.whisperPath, w.whisperArgs(req, audioPath, outBase)...)
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyContext(ctxErr)
		}
		return nil, jobs.Wrap(runErr, jobs.KindEngine, "whisper.cpp transcription failed").
			WithContext("exit_code", res.ExitCode).
			WithContext("stderr", tail(res.Stderr, 400))
	}

	srt, err := subtitle.ReadSRT(outBase + ".srt")
	if err != nil {
		return nil, jobs.Wrap(err, jobs.KindEngine, "whisper.cpp produced no readable subtitle output")
	}

	segments := srt.Segments()
	for i := range segments {
		segments[i].Text = strings.TrimSpace(segments[i].Text)
	}
	if duration == 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	return &Result{
		Language: resolveLanguage(req.Language, res.Stderr, srt.Language),
		Duration: roundMillis(duration),
		Text:     JoinText(segments),
		Segments: segments,
	}, nil
}

// normalize converts the input to 16 kHz mono wav. Any ffmpeg failure falls
// back to the original file.
func (w *WhisperCLI) normalize(ctx context.Context, inputPath, workDir string) (string, float64) {
	if w.ffmpegPath == "" {
		return inputPath, 0
	}
	outPath := file.ReplaceExt(filepath.Join(workDir, filepath.Base(inputPath)), ".wav")
	res, err := w.runner.Run(ctx, w.ffmpegPath, buildFFmpegArgs(inputPath, outPath)...)
	duration := parseDuration(res.Stderr)
	if err != nil {
		log.WithComponent("transcribe").Warnf("ffmpeg normalization failed, using original input: %v", err)
		_ = os.Remove(outPath)
		return inputPath, duration
	}
	return outPath, duration
}

func (w *WhisperCLI) whisperArgs(req Request, audioPath, outBase string) []string {
	args := []string{
		"-m", w.cfg.ModelPath,
		"-f", audioPath,
		"-of", outBase,
		"-osrt",
		"-l", requestLanguage(req.Language),
	}
	if req.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(req.BeamSize))
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}
	if strings.EqualFold(w.cfg.Device, "cpu") {
		args = append(args, "-ng")
	}
	if req.VADFilter && w.cfg.VADModelPath != "" {
		args = append(args, "--vad", "-vm", w.cfg.VADModelPath)
	}
	return args
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func requestLanguage(lang *string) string {
	if lang == nil || strings.TrimSpace(*lang) == "" {
		return "auto"
	}
	return strings.TrimSpace(*lang)
}

// resolveLanguage prefers the requested language, then what whisper.cpp
// reported, then text-based detection on the cues.
func resolveLanguage(requested *string, stderr string, detected language.Tag) string {
	if requested != nil && strings.TrimSpace(*requested) != "" {
		return strings.TrimSpace(*requested)
	}
	if m := detectedLangRe.FindStringSubmatch(stderr); len(m) == 2 {
		return m[1]
	}
	if detected == language.Und {
		return ""
	}
	base, _ := detected.Base()
	return base.String()
}

// parseDuration reads the "Duration: HH:MM:SS.xx" line ffmpeg prints for
// its input.
func parseDuration(stderr string) float64 {
	m := durationRe.FindStringSubmatch(stderr)
	if len(m) != 4 {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + secs
}

func classifyContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return jobs.Wrap(err, jobs.KindTimeout, "transcription timed out")
	}
	return jobs.Wrap(err, jobs.KindInternal, "transcription cancelled")
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
