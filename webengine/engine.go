// Package webengine adapts a Chrome/Chromium instance driven over the
// DevTools protocol to the registry's BrowserEngine interface. Each engine
// handle maps to one browser tab context.
package webengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/vela/core"
)

// Config controls the browser process.
type Config struct {
	Headless   bool
	ExecPath   string
	NavTimeout time.Duration
}

// Engine drives tabs in a single browser process.
type Engine struct {
	cfg Config
	log pslog.Logger

	mu          sync.Mutex
	tabs        map[core.EngineHandle]*engineTab
	browserCtx  context.Context
	cancelChain []context.CancelFunc
	closed      bool
}

type engineTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts the browser process and returns the engine.
func New(ctx context.Context, cfg Config, logger pslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Info("browser engine started", "headless", cfg.Headless)
	return &Engine{
		cfg:         cfg,
		log:         logger,
		tabs:        make(map[core.EngineHandle]*engineTab),
		browserCtx:  browserCtx,
		cancelChain: []context.CancelFunc{browserCancel, allocCancel},
	}, nil
}

// CreateTab opens a new browser tab. The initial URL is loaded by the first
// NavigateTab call.
func (e *Engine) CreateTab(ctx context.Context, url string) (core.EngineHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", fmt.Errorf("engine is closed")
	}
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	handle := core.EngineHandle(uuid.NewString())
	e.tabs[handle] = &engineTab{ctx: tabCtx, cancel: tabCancel}
	e.log.Debug("engine tab created", "handle", handle, "url", url)
	return handle, nil
}

// DestroyTab closes the browser tab. Unknown handles are a no-op.
func (e *Engine) DestroyTab(ctx context.Context, handle core.EngineHandle) error {
	e.mu.Lock()
	tab := e.tabs[handle]
	delete(e.tabs, handle)
	e.mu.Unlock()
	if tab == nil {
		return nil
	}
	tab.cancel()
	e.log.Debug("engine tab destroyed", "handle", handle)
	return nil
}

// NavigateTab loads the URL and reports the resulting page title.
func (e *Engine) NavigateTab(ctx context.Context, handle core.EngineHandle, url string) (core.PageInfo, error) {
	tab, err := e.tab(handle)
	if err != nil {
		return core.PageInfo{}, err
	}
	navCtx, cancel := context.WithTimeout(tab.ctx, e.cfg.NavTimeout)
	defer cancel()
	var title string
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Title(&title),
	); err != nil {
		return core.PageInfo{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	return core.PageInfo{Title: title}, nil
}

// ExtractContent returns the page title and visible body text, plus the full
// document markup when requested.
func (e *Engine) ExtractContent(ctx context.Context, handle core.EngineHandle, opts core.ExtractOptions) (core.PageContent, error) {
	tab, err := e.tab(handle)
	if err != nil {
		return core.PageContent{}, err
	}
	runCtx, cancel := context.WithTimeout(tab.ctx, e.cfg.NavTimeout)
	defer cancel()
	var content core.PageContent
	actions := []chromedp.Action{
		chromedp.Title(&content.Title),
		chromedp.Text("body", &content.Text, chromedp.ByQuery),
	}
	if opts.IncludeHTML {
		actions = append(actions, chromedp.OuterHTML("html", &content.HTML, chromedp.ByQuery))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return core.PageContent{}, fmt.Errorf("extract content: %w", err)
	}
	return content, nil
}

// Close shuts down all tabs and the browser process.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	tabs := e.tabs
	e.tabs = make(map[core.EngineHandle]*engineTab)
	e.mu.Unlock()
	for _, tab := range tabs {
		tab.cancel()
	}
	for _, cancel := range e.cancelChain {
		cancel()
	}
	e.log.Info("browser engine stopped")
}

func (e *Engine) tab(handle core.EngineHandle) (*engineTab, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tab := e.tabs[handle]
	if tab == nil {
		return nil, fmt.Errorf("unknown engine handle %s", handle)
	}
	return tab, nil
}
