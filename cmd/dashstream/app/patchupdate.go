package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/beevik/etree"

	"github.com/dashstream/engine/internal/patch"
)

// refreshFromPatch implements the live-update loop §4.2 end to end: fetch
// the MPD's PatchLocation, parse and validate the patch against the live
// DOM, apply it, and merge the reconciled Manifest Model back into the one
// the engine is already playing against. Falls back to a full manifest
// refetch whenever the patch is stale or PatchLocation/publishTime is
// missing, per §4.2's discard rule.
func (s *Server) refreshFromPatch() {
	s.mu.Lock()
	if s.applyingPatch {
		s.mu.Unlock()
		return
	}
	s.applyingPatch = true
	doc := s.liveDoc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.applyingPatch = false
		s.mu.Unlock()
	}()

	if doc == nil {
		return
	}

	patchURL, ok := resolvePatchLocation(doc.Root(), s.Cfg.ManifestURL)
	if !ok {
		slog.Info("manifest update signalled but no usable PatchLocation, falling back to full refetch")
		s.refetchManifest()
		return
	}

	raw, err := fetchBody(s.httpClient, patchURL)
	if err != nil {
		slog.Warn("fetch mpd patch failed", "url", patchURL, "err", err)
		return
	}

	p, err := patch.Parse(raw)
	if err != nil {
		slog.Warn("parse mpd patch failed", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := patch.Validate(s.liveDoc.Root(), p, time.Now()); err != nil {
		if errors.Is(err, patch.ErrStalePatch) {
			slog.Info("mpd patch stale, falling back to full refetch")
			s.refetchManifestLocked()
			return
		}
		slog.Warn("mpd patch invalid, leaving manifest unchanged", "err", err)
		return
	}

	becameStatic, err := patch.Apply(s.liveDoc.Root(), p)
	if err != nil {
		slog.Warn("apply mpd patch failed", "err", err)
		return
	}

	newMf, err := patch.Reconcile(s.liveDoc, s.baseURL)
	if err != nil {
		slog.Warn("reconcile patched manifest failed", "err", err)
		return
	}
	patch.MergeInto(s.mf, newMf)

	if becameStatic {
		slog.Info("mpd patch transitioned manifest from dynamic to static")
	}
}

// refetchManifest re-downloads the full MPD and merges it into the live
// Manifest Model, used when a patch cannot be applied.
func (s *Server) refetchManifest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refetchManifestLocked()
}

// refetchManifestLocked is refetchManifest's body; caller must hold s.mu.
func (s *Server) refetchManifestLocked() {
	mf, doc, err := loadManifest(s.httpClient, s.Cfg.ManifestURL)
	if err != nil {
		slog.Warn("full manifest refetch failed", "err", err)
		return
	}
	patch.MergeInto(s.mf, mf)
	s.liveDoc = doc
}

// resolvePatchLocation reads root's PatchLocation element and resolves it
// against mpdURL per RFC 3986, since PatchLocation is commonly a host-
// root-relative path rather than one relative to the MPD's own directory.
func resolvePatchLocation(root *etree.Element, mpdURL string) (string, bool) {
	loc := root.SelectElement("PatchLocation")
	if loc == nil {
		return "", false
	}
	href := loc.Text()
	if href == "" {
		return "", false
	}
	base, err := url.Parse(mpdURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func fetchBody(client *http.Client, u string) ([]byte, error) {
	resp, err := client.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errStatus(resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type errStatus int

func (e errStatus) Error() string {
	return "unexpected HTTP status " + http.StatusText(int(e))
}
