package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// SRT time format: 00:02:16,612 --> 00:02:19,376
var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3}) --> (\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)

// ReadSRT reads and parses an SRT file.
func ReadSRT(path string) (*File, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle file: %w", err)
	}
	defer f.Close()

	return parseSRT(f, path)
}

// readSRTBytes parses SRT content held in memory. source is recorded as the
// file path.
func readSRTBytes(data []byte, source string) (*File, error) {
	return parseSRT(bytes.NewReader(data), source)
}

func parseSRT(r io.Reader, source string) (*File, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	currentLine := Line{}
	state := "index" // index, time, text
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			currentLine.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			startTime, endTime, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			currentLine.StartTime = startTime
			currentLine.EndTime = endTime
			state = "text"
			textLines = textLines[:0]

		case "text":
			if line == "" {
				if len(textLines) > 0 {
					currentLine.Text = strings.Join(textLines, " ")
					lines = append(lines, currentLine)
				}
				currentLine = Line{}
				state = "index"
				textLines = textLines[:0]
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	if state == "text" && len(textLines) > 0 {
		currentLine.Text = strings.Join(textLines, " ")
		lines = append(lines, currentLine)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	return &File{
		Lines:    lines,
		Language: detectLanguage(lines),
		Format:   "SRT",
		Path:     source,
	}, nil
}

func parseSRTTime(timeString string) (time.Duration, time.Duration, error) {
	matches := srtTimeRe.FindStringSubmatch(timeString)
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", timeString)
	}

	parseTime := func(hours, minutes, seconds, milliseconds string) time.Duration {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)

		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond
	}

	return parseTime(matches[1], matches[2], matches[3], matches[4]),
		parseTime(matches[5], matches[6], matches[7], matches[8]),
		nil
}

// detectLanguage votes per cue and returns the most common language.
func detectLanguage(lines []Line) language.Tag {
	if len(lines) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)
	order := make([]string, 0)
	for _, line := range lines {
		lang := whatlanggo.DetectLang(line.Text).Iso6391()
		if _, ok := langMap[lang]; !ok {
			order = append(order, lang)
		}
		langMap[lang]++
	}

	var topLang string
	var topCount int
	for _, lang := range order {
		if langMap[lang] > topCount {
			topLang = lang
			topCount = langMap[lang]
		}
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}

// DetectLanguage returns the ISO 639-1 code of text, or "" when whatlanggo
// is not confident.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
