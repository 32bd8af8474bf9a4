package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/types"
	"github.com/oszuidwest/gunshot-logger/internal/util"
	"golang.org/x/mod/semver"
)

const (
	githubRepo           = "oszuidwest/gunshot-logger"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30000 * time.Millisecond // Delay before first check to avoid blocking startup
	versionCheckTimeout  = 30000 * time.Millisecond // HTTP request timeout
	versionMaxRetries    = 3                        // Max retries per check cycle
	versionRetryDelay    = 1 * time.Minute          // Delay between retries
)

// VersionChecker periodically asks GitHub for the latest release. It is safe for concurrent use.
type VersionChecker struct {
	releaseURL string
	client     *http.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewVersionChecker returns a checker for this project's releases. Call Start to begin checking.
func NewVersionChecker(logger *slog.Logger) *VersionChecker {
	return &VersionChecker{
		releaseURL: "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		client:     &http.Client{Timeout: versionCheckTimeout},
		logger:     logger,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the background check loop.
func (vc *VersionChecker) Start() {
	if vc.started.CompareAndSwap(false, true) {
		go vc.run()
	}
}

// Stop ends the check loop and waits for it to exit. It is safe to call on a
// checker that was never started.
func (vc *VersionChecker) Stop() {
	vc.stopOnce.Do(func() { close(vc.stopCh) })
	if vc.started.Load() {
		<-vc.done
	}
}

func (vc *VersionChecker) run() {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			vc.logger.Error("panic in version checker", "panic", r)
		}
	}()

	select {
	case <-time.After(versionCheckDelay):
		vc.checkWithRetry()
	case <-vc.stopCh:
		return
	}

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			vc.checkWithRetry()
		case <-vc.stopCh:
			return
		}
	}
}

func (vc *VersionChecker) checkWithRetry() {
	for attempt := range versionMaxRetries {
		if vc.check() {
			return
		}
		if attempt < versionMaxRetries-1 {
			select {
			case <-time.After(versionRetryDelay):
			case <-vc.stopCh:
				return
			}
		}
	}
	vc.logger.Debug("version check failed", "attempts", versionMaxRetries)
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release and reports whether no retry is needed.
func (vc *VersionChecker) check() bool {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		versionCheckTimeout,
		errors.New("github API request timeout"),
	)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.releaseURL, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "gunshot-logger/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return false
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified, http.StatusNotFound:
		return true
	case http.StatusForbidden, http.StatusTooManyRequests:
		return false
	default:
		// Retry server errors only.
		return resp.StatusCode < 500
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false
	}
	if release.Draft || release.Prerelease {
		return true
	}
	if release.TagName == "" {
		return false
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.mu.Unlock()

	if vc.Info().UpdateAvail {
		vc.logger.Info("new release available", "current", normalizeVersion(Version), "latest", release.TagName)
	}
	return true
}

// Info returns the running and latest known versions.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns v with the "v" prefix semver expects.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
