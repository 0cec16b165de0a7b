package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/filedrop/internal/core"
)

var _ core.Translator = (*Translator)(nil)

func TestMatch(t *testing.T) {
	tr := New()

	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"de-DE,de;q=0.9,en;q=0.8", "de"},
		{"fr-CH, fr;q=0.9", "fr"},
		{"es-MX", "es"},
		{"ja-JP", "en"},
		{"en-GB;q=0.5, de;q=0.9", "de"},
		{";;;garbage", "en"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Match(tt.header), "Accept-Language %q", tt.header)
	}
}

func TestTranslate(t *testing.T) {
	tr := New()

	assert.Equal(t, "Die Datei wurde hochgeladen.", tr.Translate("de", core.MsgUploadSuccess))
	assert.Equal(t, "Die Datei wurde hochgeladen.", tr.Translate("de-AT", core.MsgUploadSuccess))
	assert.Equal(t, "The file has been uploaded.", tr.Translate("", core.MsgUploadSuccess))
	assert.Equal(t, "The file has been uploaded.", tr.Translate("pt", core.MsgUploadSuccess))
	assert.Equal(t, "unknown.key", tr.Translate("de", "unknown.key"))
}

func TestCatalogueComplete(t *testing.T) {
	for lang, msgs := range catalogue {
		for key := range catalogue["en"] {
			assert.NotEmpty(t, msgs[key], "%s is missing %s", lang, key)
		}
	}
}
