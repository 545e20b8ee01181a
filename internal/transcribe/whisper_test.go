package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"github.com/MimeLyc/batch-transcriber/internal/subtitle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls []string
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name)
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

func fakeLookPath(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func testSetup(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	model := filepath.Join(root, "ggml-small.bin")
	input := filepath.Join(root, "input.mp3")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o644))
	require.NoError(t, os.WriteFile(input, []byte("audio"), 0o644))
	return model, input
}

func argValue(args []string, key string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, key string) bool {
	for _, a := range args {
		if a == key {
			return true
		}
	}
	return false
}

func TestWhisperCLI_TranscribeHappyPath(t *testing.T) {
	model, input := testSetup(t)

	var whisperArgs []string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (commandResult, error) {
		switch name {
		case "/usr/bin/ffmpeg":
			out := args[len(args)-1]
			assert.Equal(t, ".wav", filepath.Ext(out))
			require.NoError(t, os.WriteFile(out, []byte("wav"), 0o644))
			return commandResult{Stderr: "  Duration: 00:00:04.25, start: 0.000000, bitrate: 128 kb/s"}, nil
		case "/usr/bin/whisper-cli":
			whisperArgs = append([]string{}, args...)
			srt := "1\n00:00:00,000 --> 00:00:01,250\n Hola mundo \n\n2\n00:00:01,250 --> 00:00:03,000\nqué tal\n"
			require.NoError(t, os.WriteFile(argValue(args, "-of")+".srt", []byte(srt), 0o644))
			return commandResult{Stderr: "whisper_full: auto-detected language: es (p = 0.97)"}, nil
		}
		return commandResult{}, errors.New("unexpected command " + name)
	}}

	w, err := newWhisperCLI(WhisperConfig{
		WhisperBin: "whisper-cli",
		FFmpegBin:  "ffmpeg",
		ModelPath:  model,
		Model:      "small",
		Device:     "cpu",
	}, runner, fakeLookPath("whisper-cli", "ffmpeg"))
	require.NoError(t, err)

	res, err := w.Transcribe(context.Background(), Request{AudioPath: input, BeamSize: 5})
	require.NoError(t, err)

	assert.Equal(t, "es", res.Language)
	assert.Equal(t, 4.25, res.Duration)
	assert.Equal(t, "Hola mundo qué tal", res.Text)
	assert.Equal(t, []subtitle.Segment{
		{Start: 0, End: 1.25, Text: "Hola mundo"},
		{Start: 1.25, End: 3, Text: "qué tal"},
	}, res.Segments)

	assert.Equal(t, "auto", argValue(whisperArgs, "-l"))
	assert.Equal(t, "5", argValue(whisperArgs, "-bs"))
	assert.Equal(t, ".wav", filepath.Ext(argValue(whisperArgs, "-f")))
	assert.True(t, hasArg(whisperArgs, "-osrt"))
	assert.True(t, hasArg(whisperArgs, "-ng"))
	assert.Equal(t, "small", w.Info().Model)
}

func TestWhisperCLI_FixedLanguageWithoutFFmpeg(t *testing.T) {
	model, input := testSetup(t)

	var whisperArgs []string
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (commandResult, error) {
		whisperArgs = append([]string{}, args...)
		srt := "1\n00:00:02,100 --> 00:00:03,450\nTesting\n"
		require.NoError(t, os.WriteFile(argValue(args, "-of")+".srt", []byte(srt), 0o644))
		return commandResult{}, nil
	}}

	w, err := newWhisperCLI(WhisperConfig{
		WhisperBin:   "whisper-cli",
		FFmpegBin:    "ffmpeg",
		ModelPath:    model,
		VADModelPath: "/models/vad.bin",
	}, runner, fakeLookPath("whisper-cli"))
	require.NoError(t, err)

	lang := "en"
	res, err := w.Transcribe(context.Background(), Request{AudioPath: input, Language: &lang, BeamSize: 1, VADFilter: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"/usr/bin/whisper-cli"}, runner.calls)
	assert.Equal(t, input, argValue(whisperArgs, "-f"))
	assert.Equal(t, "en", argValue(whisperArgs, "-l"))
	assert.Equal(t, "/models/vad.bin", argValue(whisperArgs, "-vm"))
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 3.45, res.Duration, "duration falls back to the last cue end")
}

func TestWhisperCLI_FFmpegFailureFallsBackToOriginal(t *testing.T) {
	model, input := testSetup(t)

	var whisperInput string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (commandResult, error) {
		if name == "/usr/bin/ffmpeg" {
			return commandResult{ExitCode: 1, Stderr: "Invalid data found"}, errors.New("exit status 1")
		}
		whisperInput = argValue(args, "-f")
		require.NoError(t, os.WriteFile(argValue(args, "-of")+".srt", []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o644))
		return commandResult{}, nil
	}}

	w, err := newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli", FFmpegBin: "ffmpeg", ModelPath: model}, runner, fakeLookPath("whisper-cli", "ffmpeg"))
	require.NoError(t, err)

	_, err = w.Transcribe(context.Background(), Request{AudioPath: input})
	require.NoError(t, err)
	assert.Equal(t, input, whisperInput)
}

func TestWhisperCLI_ErrorKinds(t *testing.T) {
	model, input := testSetup(t)

	failing := &fakeRunner{run: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{ExitCode: 3, Stderr: "failed to load model"}, errors.New("exit status 3")
	}}
	w, err := newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli", ModelPath: model}, failing, fakeLookPath("whisper-cli"))
	require.NoError(t, err)

	_, err = w.Transcribe(context.Background(), Request{AudioPath: filepath.Join(t.TempDir(), "missing.wav")})
	assert.Equal(t, jobs.KindInvalidInput, jobs.KindOf(err))

	_, err = w.Transcribe(context.Background(), Request{AudioPath: input})
	assert.Equal(t, jobs.KindEngine, jobs.KindOf(err))
	assert.Contains(t, err.Error(), "failed to load model")

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	_, err = w.Transcribe(ctx, Request{AudioPath: input})
	assert.Equal(t, jobs.KindTimeout, jobs.KindOf(err))

	silent := &fakeRunner{}
	w, err = newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli", ModelPath: model}, silent, fakeLookPath("whisper-cli"))
	require.NoError(t, err)
	_, err = w.Transcribe(context.Background(), Request{AudioPath: input})
	assert.Equal(t, jobs.KindEngine, jobs.KindOf(err), "missing srt output is an engine error")
}

func TestNewWhisperCLI_ValidatesSetup(t *testing.T) {
	model, _ := testSetup(t)

	_, err := newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli", ModelPath: model}, &fakeRunner{}, fakeLookPath())
	assert.Error(t, err)

	_, err = newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli"}, &fakeRunner{}, fakeLookPath("whisper-cli"))
	assert.Error(t, err)

	_, err = newWhisperCLI(WhisperConfig{WhisperBin: "whisper-cli", ModelPath: filepath.Dir(model)}, &fakeRunner{}, fakeLookPath("whisper-cli"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 3723.5, parseDuration("Duration: 01:02:03.50, start"))
	assert.Equal(t, 0.0, parseDuration("no duration here"))
}

func TestJoinText(t *testing.T) {
	assert.Equal(t, "a b", JoinText([]subtitle.Segment{{Text: " a "}, {Text: ""}, {Text: "b"}}))
}
