package batch

import (
	"sort"
	"strings"

	"github.com/MimeLyc/batch-transcriber/internal/jobs"
	"golang.org/x/text/language"
)

// AllowedExtensions is the case-insensitive allow-list for folder scans.
var AllowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".aac":  true,
	".webm": true,
	".mp4":  true,
	".wma":  true,
	".aiff": true,
	".aif":  true,
}

// AllowedExtensionList returns AllowedExtensions sorted.
func AllowedExtensionList() []string {
	ret := make([]string, 0, len(AllowedExtensions))
	for ext := range AllowedExtensions {
		ret = append(ret, ext)
	}
	sort.Strings(ret)
	return ret
}

// NormalizeLanguage maps a requested language to the value handed to the
// engine. Blank, "auto" and the "string" client placeholder mean autodetect.
func NormalizeLanguage(raw string) *string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	switch lang {
	case "", "auto", "string":
		return nil
	}
	if tag, err := language.Parse(lang); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			lang = base.String()
		}
	}
	return &lang
}

// NewParams builds validated transcription parameters from raw request
// values.
func NewParams(lang string, beamSize int, vadFilter bool, formats []string) (jobs.Params, error) {
	exportFormats, err := jobs.ParseFormats(formats)
	if err != nil {
		return jobs.Params{}, err
	}
	params := jobs.Params{
		Language:      NormalizeLanguage(lang),
		BeamSize:      beamSize,
		VADFilter:     vadFilter,
		ExportFormats: exportFormats,
	}
	if err := params.Validate(); err != nil {
		return jobs.Params{}, err
	}
	return params, nil
}
