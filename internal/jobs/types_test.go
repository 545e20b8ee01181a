package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    []Format
		wantErr bool
	}{
		{name: "empty means all", raw: nil, want: AllFormats},
		{name: "comma separated", raw: []string{"txt, SRT"}, want: []Format{FormatTXT, FormatSRT}},
		{name: "repeated values dedup", raw: []string{"vtt", "vtt,json"}, want: []Format{FormatVTT, FormatJSON}},
		{name: "blank entries ignored", raw: []string{" , "}, want: AllFormats},
		{name: "client placeholder", raw: []string{"string"}, want: AllFormats},
		{name: "unknown format", raw: []string{"txt,docx"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormats(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParams_Validate(t *testing.T) {
	ok := Params{BeamSize: 1, ExportFormats: []Format{FormatTXT}}
	require.NoError(t, ok.Validate())

	tooWide := ok
	tooWide.BeamSize = MaxBeamSize + 1
	assert.Error(t, tooWide.Validate())

	none := ok
	none.ExportFormats = nil
	assert.Error(t, none.Validate())

	bad := ok
	bad.ExportFormats = []Format{"pdf"}
	assert.Error(t, bad.Validate())
}

func TestFormat_FileNameAndContentType(t *testing.T) {
	assert.Equal(t, "result.srt", FormatSRT.FileName())
	assert.Equal(t, "text/vtt", FormatVTT.ContentType())
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "text/plain", FormatTXT.ContentType())
}

func TestJob_CloneIsDeep(t *testing.T) {
	lang := "es"
	orig := &Job{
		Params:      Params{Language: &lang, ExportFormats: []Format{FormatTXT}},
		ResultFiles: map[Format]string{FormatTXT: "a"},
	}
	cp := orig.Clone()
	*cp.Language = "en"
	cp.ResultFiles[FormatTXT] = "b"
	cp.ExportFormats[0] = FormatSRT

	assert.Equal(t, "es", *orig.Language)
	assert.Equal(t, "a", orig.ResultFiles[FormatTXT])
	assert.Equal(t, FormatTXT, orig.ExportFormats[0])
}
