package licenses

import (
	"embed"
	"path"
	"strings"
)

//go:embed texts/*.txt
var texts embed.FS

type License struct {
	Name string
	Text string
}

// All returns every bundled license, by file name. The application's own is named to sort first.
func All() ([]License, error) {
	entries, err := texts.ReadDir("texts")
	if err != nil {
		return nil, err
	}

	var ls []License
	for _, e := range entries {
		bytes, err := texts.ReadFile(path.Join("texts", e.Name()))
		if err != nil {
			return nil, err
		}
		ls = append(ls, License{
			Name: strings.TrimSuffix(e.Name(), ".txt"),
			Text: strings.TrimSpace(string(bytes)),
		})
	}

	return ls, nil
}
