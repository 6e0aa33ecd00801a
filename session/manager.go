package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/seam/archive"
	"github.com/pithecene-io/seam/fsio"
	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/options"
	"github.com/pithecene-io/seam/proc"
	"github.com/pithecene-io/seam/types"
)

// Config carries the external binary names the manager shells out to.
// Zero values fall back to the package defaults.
type Config struct {
	ArchiveManagerBin string
	ArchiveServerBin  string
	XvfbBin           string
	VNCBin            string
	WMBin             string
}

// Manager launches the full session set for a run.
type Manager struct {
	cfg     Config
	archive *archive.Adapter
	logger  *log.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		archive: archive.NewAdapter(cfg.ArchiveManagerBin, cfg.ArchiveServerBin),
		logger:  logger,
	}
}

// InstantiateAll discovers the run's contexts and launches one session
// per context concurrently. All-or-nothing: if any session fails to
// come up, every session already launched is torn down and the error
// is returned.
//
// autoOverrides are automation options from the command line; they win
// over both browser.json layers in every context.
func (m *Manager) InstantiateAll(ctx context.Context, scriptDir, inputDir, outputDir string, runOpts, autoOverrides options.Options) (*Set, error) {
	names := DiscoverContextNames(scriptDir, inputDir)
	m.logger.Info("instantiating sessions", map[string]any{"contexts": names})

	// Every context's spec is resolved before the engine starts. One
	// misconfigured context fails the whole call with nothing launched
	// and nothing written into the output tree.
	specs := make([]*types.ContextSpec, len(names))
	for i, name := range names {
		spec, err := BuildSpec(name, scriptDir, inputDir, runOpts, autoOverrides)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	runOptions := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOptions); err != nil {
		return nil, fmt.Errorf("install automation engine: %w", err)
	}
	pw, err := playwright.Run(runOptions)
	if err != nil {
		return nil, fmt.Errorf("start automation engine: %w", err)
	}

	sessions := make([]*Session, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			s, err := m.instantiate(gctx, pw, spec, scriptDir, inputDir, outputDir, runOpts)
			if err != nil {
				return fmt.Errorf("context %q: %w", spec.Name, err)
			}
			sessions[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
		_ = pw.Stop()
		return nil, err
	}

	byName := make(map[string]*Session, len(sessions))
	for _, s := range sessions {
		byName[s.Spec.Name] = s
	}
	return NewSet(pw, byName), nil
}

// instantiate brings up a single context's session from its resolved
// spec, applying the run option mutations in their fixed order. On
// failure every helper already started for the session is stopped.
func (m *Manager) instantiate(ctx context.Context, pw *playwright.Playwright, spec *types.ContextSpec, scriptDir, inputDir, outputDir string, runOpts options.Options) (s *Session, err error) {
	name := spec.Name

	ctxOut := filepath.Join(outputDir, types.ContextsDir, name)
	userData := filepath.Join(ctxOut, UserDataDir)
	if err := os.MkdirAll(userData, 0o755); err != nil {
		return nil, err
	}
	if err := seedUserData(userData, name, scriptDir, inputDir); err != nil {
		return nil, err
	}

	s = &Session{Spec: spec, OutputDir: ctxOut, logger: m.logger}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	width, height := Viewport(spec)
	launch := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(!runOpts.Bool("show_browser")),
		Viewport: &playwright.Size{Width: width, Height: height},
	}
	applyAutomation(&launch, spec.Automation)

	insecure := runOpts.Bool("insecure_tls")

	upstream, err := parseUpstream(runOpts)
	if err != nil {
		return nil, err
	}

	if runOpts.Bool("show_browser") {
		dw, dh := parseDisplaySize(runOpts.String("display_size"), width, height)
		stack, derr := StartDisplay(DisplayOptions{
			XvfbBin:     m.cfg.XvfbBin,
			VNCBin:      m.cfg.VNCBin,
			WMBin:       m.cfg.WMBin,
			Width:       dw,
			Height:      dh,
			VNCPassword: runOpts.String("vnc_password"),
		})
		if derr != nil {
			return nil, derr
		}
		for _, h := range stack.Handles() {
			s.Own(h)
		}
		if launch.Env == nil {
			launch.Env = map[string]string{}
		}
		launch.Env["DISPLAY"] = stack.Display
		m.logger.Info("display attached", map[string]any{"context": name, "display": stack.Display})
	}

	if spec.RecordHAR {
		launch.RecordHarPath = playwright.String(filepath.Join(ctxOut, HARFile))
	}
	if spec.RecordVideo {
		launch.RecordVideo = &playwright.RecordVideo{
			Dir: filepath.Join(ctxOut, VideoDir),
			Size: &playwright.Size{
				Width:  int(float64(width) * spec.VideoScale),
				Height: int(float64(height) * spec.VideoScale),
			},
		}
	}

	proxyHandle, endpoint, perr := m.attachArchiveProxy(ctx, s, spec, name, inputDir, upstream)
	if perr != nil {
		return nil, perr
	}
	switch {
	case proxyHandle != nil:
		s.Own(proxyHandle)
		s.ProxyEndpoint = endpoint
		launch.Proxy = &playwright.Proxy{Server: endpoint}
		// The local proxy terminates TLS with its own certificate.
		insecure = true
	case upstream != nil:
		p := &playwright.Proxy{Server: upstream.Server()}
		p.Username = upstream.Username
		p.Password = upstream.Password
		launch.Proxy = p
	}

	if insecure {
		launch.IgnoreHttpsErrors = playwright.Bool(true)
		launch.Args = append(launch.Args, "--ignore-certificate-errors")
	}

	flavor, err := Flavor(spec, runOpts)
	if err != nil {
		return nil, err
	}
	bt := browserType(pw, flavor)

	if err := writeOptionsSnapshot(ctxOut, spec, flavor, launch, upstream, endpoint); err != nil {
		return nil, err
	}

	bc, err := bt.LaunchPersistentContext(userData, launch)
	if err != nil {
		return nil, fmt.Errorf("launch persistent context: %w", err)
	}
	s.Context = bc

	if spec.RecordTrace {
		err = bc.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("start tracing: %w", err)
		}
		s.Tracing = true
	}

	if runOpts.String("determinism") != "off" {
		err = bc.AddInitScript(playwright.Script{Content: playwright.String(seededRandomScript)})
		if err != nil {
			return nil, fmt.Errorf("install determinism script: %w", err)
		}
	}

	if pages := bc.Pages(); len(pages) > 0 {
		s.Page = pages[0]
	} else {
		s.Page, err = bc.NewPage()
		if err != nil {
			return nil, fmt.Errorf("open initial page: %w", err)
		}
	}

	m.logger.Info("session ready", map[string]any{
		"context": name,
		"browser": string(flavor),
		"proxy":   endpoint,
	})
	return s, nil
}

// attachArchiveProxy prepares the WARC collection and starts the local
// record/replay proxy when the spec asks for one. Replay supersedes
// record: in replay modes the prior run's archive is copied forward and
// reindexed, and recording of unarchived traffic happens only in
// read-write mode.
func (m *Manager) attachArchiveProxy(ctx context.Context, s *Session, spec *types.ContextSpec, name, inputDir string, upstream *types.UpstreamProxy) (*proc.Handle, string, error) {
	warcDir := filepath.Join(s.OutputDir, WARCDir)

	switch spec.Replay {
	case types.ReplayOff:
		if !spec.RecordWARC {
			return nil, "", nil
		}
		if err := m.archive.Initialize(ctx, warcDir); err != nil {
			return nil, "", err
		}
		h, port, err := m.archive.Start(ctx, warcDir, archive.StartOptions{Record: true, Upstream: upstream})
		if err != nil {
			return nil, "", err
		}
		return h, archive.Endpoint(port), nil

	case types.ReplayReadOnly, types.ReplayReadWrite:
		prior := filepath.Join(inputDir, types.ContextsDir, name, WARCDir)
		if _, err := os.Stat(prior); err != nil {
			return nil, "", fmt.Errorf("replay requested but no prior archive at %s: %w", prior, err)
		}
		if err := fsio.CopyTree(prior, warcDir); err != nil {
			return nil, "", fmt.Errorf("copy prior archive: %w", err)
		}
		if err := m.archive.ReIndex(ctx, warcDir); err != nil {
			return nil, "", err
		}
		h, port, err := m.archive.Start(ctx, warcDir, archive.StartOptions{
			Record:   spec.Replay == types.ReplayReadWrite,
			Upstream: upstream,
		})
		if err != nil {
			return nil, "", err
		}
		return h, archive.Endpoint(port), nil
	}

	return nil, "", fmt.Errorf("unknown replay mode %q", spec.Replay)
}

// seedUserData copies a profile into the fresh userData directory,
// preferring the input directory's over the script's.
func seedUserData(userData, name, scriptDir, inputDir string) error {
	for _, dir := range []string{inputDir, scriptDir} {
		if dir == "" {
			continue
		}
		src := filepath.Join(dir, types.ContextsDir, name, UserDataDir)
		if info, err := os.Stat(src); err == nil && info.IsDir() {
			return fsio.CopyTree(src, userData)
		}
	}
	return nil
}

// applyAutomation maps supported browser.json keys onto launch options.
func applyAutomation(launch *playwright.BrowserTypeLaunchPersistentContextOptions, automation map[string]any) {
	if raw, ok := automation["args"].([]any); ok {
		for _, a := range raw {
			if arg, ok := a.(string); ok {
				launch.Args = append(launch.Args, arg)
			}
		}
	}
	if ua, ok := automation["user_agent"].(string); ok && ua != "" {
		launch.UserAgent = playwright.String(ua)
	}
	if tz, ok := automation["timezone"].(string); ok && tz != "" {
		launch.TimezoneId = playwright.String(tz)
	}
	if locale, ok := automation["locale"].(string); ok && locale != "" {
		launch.Locale = playwright.String(locale)
	}
}

func browserType(pw *playwright.Playwright, flavor types.BrowserFlavor) playwright.BrowserType {
	switch flavor {
	case types.BrowserFirefox:
		return pw.Firefox
	case types.BrowserWebKit:
		return pw.WebKit
	default:
		return pw.Chromium
	}
}

// parseUpstream reads the upstream_proxy option, accepting either a
// structured object or a URL string.
func parseUpstream(runOpts options.Options) (*types.UpstreamProxy, error) {
	raw, ok := runOpts["upstream_proxy"]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case string:
		u, err := url.Parse(v)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("upstream_proxy %q is not a valid proxy URL", v)
		}
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("upstream_proxy %q: missing or invalid port", v)
		}
		p := &types.UpstreamProxy{Protocol: types.ProxyProtocol(u.Scheme), Host: u.Hostname(), Port: port}
		if u.User != nil {
			user := u.User.Username()
			p.Username = &user
			if pw, has := u.User.Password(); has {
				p.Password = &pw
			}
		}
		return p, p.Validate()

	case map[string]any:
		p := &types.UpstreamProxy{}
		if s, ok := v["protocol"].(string); ok {
			p.Protocol = types.ProxyProtocol(s)
		}
		if s, ok := v["host"].(string); ok {
			p.Host = s
		}
		if f, ok := v["port"].(float64); ok {
			p.Port = int(f)
		}
		if s, ok := v["username"].(string); ok {
			p.Username = &s
		}
		if s, ok := v["password"].(string); ok {
			p.Password = &s
		}
		return p, p.Validate()

	default:
		return nil, fmt.Errorf("upstream_proxy must be a URL string or an object")
	}
}

// parseDisplaySize parses "WIDTHxHEIGHT", falling back to the viewport.
func parseDisplaySize(s string, defWidth, defHeight int) (int, int) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return defWidth, defHeight
	}
	w, werr := strconv.Atoi(parts[0])
	h, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return defWidth, defHeight
	}
	return w, h
}

// writeOptionsSnapshot records the context's effective configuration
// next to its artifacts so locked output is self-describing.
func writeOptionsSnapshot(ctxOut string, spec *types.ContextSpec, flavor types.BrowserFlavor, launch playwright.BrowserTypeLaunchPersistentContextOptions, upstream *types.UpstreamProxy, proxyEndpoint string) error {
	snapshot := map[string]any{
		"context":      spec.Name,
		"browser":      string(flavor),
		"automation":   spec.Automation,
		"record_har":   spec.RecordHAR,
		"record_trace": spec.RecordTrace,
		"record_video": spec.RecordVideo,
		"video_scale":  spec.VideoScale,
		"record_warc":  spec.RecordWARC,
		"replay":       string(spec.Replay),
	}
	if launch.Headless != nil {
		snapshot["headless"] = *launch.Headless
	}
	if launch.Viewport != nil {
		snapshot["viewport"] = map[string]int{
			"width":  launch.Viewport.Width,
			"height": launch.Viewport.Height,
		}
	}
	if upstream != nil {
		snapshot["upstream_proxy"] = upstream.Redact()
	}
	if proxyEndpoint != "" {
		snapshot["archive_proxy"] = proxyEndpoint
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return fsio.WriteFileAtomic(filepath.Join(ctxOut, OptionsFile), append(data, '\n'), 0o644)
}
