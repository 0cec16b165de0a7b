// Package i18n negotiates the response language and resolves the message
// keys used in upload responses.
package i18n

import (
	"golang.org/x/text/language"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// supported lists the catalogue languages; the first is the fallback.
var supported = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
}

var catalogue = map[string]map[string]string{
	"en": {
		core.MsgUploadSuccess:    "The file has been uploaded.",
		core.MsgUploadValidation: "The file could not be uploaded.",
	},
	"de": {
		core.MsgUploadSuccess:    "Die Datei wurde hochgeladen.",
		core.MsgUploadValidation: "Die Datei konnte nicht hochgeladen werden.",
	},
	"fr": {
		core.MsgUploadSuccess:    "Le fichier a été téléversé.",
		core.MsgUploadValidation: "Le fichier n'a pas pu être téléversé.",
	},
	"es": {
		core.MsgUploadSuccess:    "El archivo se ha subido.",
		core.MsgUploadValidation: "No se pudo subir el archivo.",
	},
}

// Translator is a core.Translator over the built-in catalogue.
type Translator struct {
	matcher  language.Matcher
	fallback string
}

// New creates a Translator falling back to English.
func New() *Translator {
	return &Translator{
		matcher:  language.NewMatcher(supported),
		fallback: "en",
	}
}

// Match returns the best catalogue language for an Accept-Language header.
func (t *Translator) Match(acceptLanguage string) string {
	if acceptLanguage == "" {
		return t.fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return t.fallback
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return t.fallback
	}
	base, _ := supported[idx].Base()
	return base.String()
}

// Translate resolves key in lang. Unknown languages use the fallback; unknown
// keys are returned unchanged.
func (t *Translator) Translate(lang, key string) string {
	if msg, ok := catalogue[t.normalize(lang)][key]; ok {
		return msg
	}
	if msg, ok := catalogue[t.fallback][key]; ok {
		return msg
	}
	return key
}

func (t *Translator) normalize(lang string) string {
	if lang == "" {
		return t.fallback
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return t.fallback
	}
	base, _ := tag.Base()
	return base.String()
}
