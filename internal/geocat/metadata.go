// metadata.go contains helpers that inspect record payloads locally,
// without touching the API.

package geocat

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const gmdNS = "http://www.isotc211.org/2005/gmd"

// Languages are the languages a record is written in: the main language
// plus the translations declared as locales.
type Languages struct {
	Main       string
	Additional []string
}

// MetadataLanguages extracts the language declarations from a record's raw
// XML. The main language is the LanguageCode under gmd:language; every
// LanguageCode under a gmd:locale is an additional translation.
func MetadataLanguages(payload []byte) (*Languages, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))

	var (
		langs Languages
		stack []xml.Name
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == gmdNS && t.Name.Local == "LanguageCode" {
				code := attr(t, "codeListValue")
				switch {
				case inScope(stack, "locale"):
					langs.Additional = append(langs.Additional, code)
				case inScope(stack, "language") && langs.Main == "":
					langs.Main = code
				}
			}
			stack = append(stack, t.Name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if langs.Main == "" {
		return nil, fmt.Errorf("geocat: payload declares no main language")
	}
	return &langs, nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func inScope(stack []xml.Name, local string) bool {
	for _, n := range stack {
		if n.Space == gmdNS && n.Local == local {
			return true
		}
	}
	return false
}
