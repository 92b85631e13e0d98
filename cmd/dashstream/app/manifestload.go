package app

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/beevik/etree"

	"github.com/dashstream/engine/internal/manifest"
)

// loadManifest downloads the MPD at mpdURL and builds both the Manifest
// Model and the raw XML DOM the Patch Applier needs to mutate in place
// (component D, §4.2). The MPD is staged to a temp file before the typed
// parse since dash-mpd only exposes a file-based reader (the same
// two-step fetch-then-parse dashfetcher uses for VoD assets); the DOM is
// then parsed straight from the staged bytes.
func loadManifest(client *http.Client, mpdURL string) (*manifest.Manifest, *etree.Document, error) {
	resp, err := client.Get(mpdURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "dashstream-*.mpd")
	if err != nil {
		return nil, nil, fmt.Errorf("stage manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, nil, fmt.Errorf("stage manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, nil, fmt.Errorf("stage manifest: %w", err)
	}

	mpd, err := m.ReadFromFile(tmp.Name())
	if err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	mf, err := manifest.Build(mpd, baseURLOf(mpdURL))
	if err != nil {
		return nil, nil, err
	}

	raw, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, nil, fmt.Errorf("reread staged manifest: %w", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, nil, fmt.Errorf("parse manifest dom: %w", err)
	}

	return mf, doc, nil
}

func baseURLOf(u string) string {
	idx := strings.LastIndex(u, "/")
	if idx == -1 {
		return ""
	}
	return u[:idx+1]
}
