package autofer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"car-listings-toolkit/utils"
)

// DefaultURLs is used when no URL file is present.
var DefaultURLs = []string{
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/clio/gasolina/1-0-tce-90cv-intens/1062915/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/austral/gasolina/e-tech-full-hybrid-200cv-evolution/1056593/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/arkana/gasolina/1-3-tce-140cv-edc-microhibrido-zen/1038292/",
	"https://www.autofer.com/coches/segunda-mano/madrid/dacia/sandero-stepway/gasolina/0-9-tce-90cv-stepway-comfort/1000546/",
	"https://www.autofer.com/coches/segunda-mano/madrid/dacia/duster/hibrido/1-0-tce-100cv-glp-4x2-sl-aniversario/1011551/",
	"https://www.autofer.com/coches/segunda-mano/madrid/dacia/sandero-stepway/gasolina/1-0-tce-90cv-stepway-expression/1036354/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/megane/gasolina/tce-74kw-100cv-tech-road-energy/1000597/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/megane/gasolina/tce-140cv-gpf-techno-fast-track/895637/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/arkana/gasolina/1-6-e-tech-145cv-rs-line/1058061/",
	"https://www.autofer.com/coches/segunda-mano/madrid/renault/clio/hibrido/1-6-e-tech-hibrido-140cv-zen/914544/",
}

// LoadURLs reads one URL per line from path, ignoring blank lines and lines
// starting with '#'. A missing file yields DefaultURLs.
func LoadURLs(path string, logger *utils.Logger) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("[autofer] URL file %s not found, using %d built-in URLs", path, len(DefaultURLs))
		return append([]string(nil), DefaultURLs...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("autofer: open url file: %w", err)
	}
	defer f.Close()

	urls, err := ParseURLs(f)
	if err != nil {
		return nil, fmt.Errorf("autofer: read %s: %w", path, err)
	}
	logger.Info("[autofer] Loaded %d URLs from %s", len(urls), path)
	return urls, nil
}

// ParseURLs returns the URLs listed in r, in order.
func ParseURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}

// Dedupe drops repeated URLs, keeping the first occurrence.
func Dedupe(urls []string) []string {
	set := utils.NewURLSet()
	for _, u := range urls {
		set.Add(u)
	}
	return set.List()
}
