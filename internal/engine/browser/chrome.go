package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures a Chrome session.
type ChromeOptions struct {
	Headless    bool
	ExecPath    string
	Proxy       string
	UserAgent   string
	Lang        string
	WaitTimeout time.Duration
}

// Chrome is a Session backed by a dedicated Chrome process driven over CDP.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	wait        time.Duration
	closeOnce   sync.Once
}

// NewChrome starts a browser and returns a session bound to its first tab.
func NewChrome(opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(1920, 1080),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	c := &Chrome{ctx: ctx, cancel: cancel, allocCancel: allocCancel, wait: wait}

	// The first Run allocates the browser and must use the tab context itself.
	startup := []chromedp.Action{chromedp.Navigate("about:blank")}
	if opts.UserAgent != "" {
		override := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.Lang != "" {
			override = override.WithAcceptLanguage(opts.Lang)
		}
		startup = append(startup, override)
	}
	if err := chromedp.Run(ctx, startup...); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}
	return c, nil
}

// scope derives a context from the tab context that also ends with ctx.
func (c *Chrome) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(c.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, dl)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := c.scope(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var u string
	err := c.run(ctx, chromedp.Location(&u))
	return u, err
}

func (c *Chrome) Find(ctx context.Context, loc Locator) (Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()

	var nodes []*cdp.Node
	err := c.run(waitCtx, chromedp.Nodes(loc.Query, &nodes, queryOptions(loc, false)...))
	if err != nil || len(nodes) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return &chromeElement{c: c, node: nodes[0]}, nil
}

func (c *Chrome) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	var nodes []*cdp.Node
	opts := append(queryOptions(loc, true), chromedp.AtLeast(0))
	if err := c.run(ctx, chromedp.Nodes(loc.Query, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("querying %s: %w", loc, err)
	}
	return c.wrap(nodes), nil
}

func (c *Chrome) wrap(nodes []*cdp.Node) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{c: c, node: n})
	}
	return out
}

func queryOptions(loc Locator, all bool) []chromedp.QueryOption {
	switch {
	case loc.By == ByXPath:
		return []chromedp.QueryOption{chromedp.BySearch}
	case all:
		return []chromedp.QueryOption{chromedp.ByQueryAll}
	default:
		return []chromedp.QueryOption{chromedp.ByQuery}
	}
}

func (c *Chrome) Click(ctx context.Context, el Element) error {
	return c.callOn(ctx, el, `function() { this.click(); }`, nil)
}

func (c *Chrome) PointerClick(ctx context.Context, el Element) error {
	ce, err := c.own(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.MouseClickNode(ce.node))
}

func (c *Chrome) ScrollIntoView(ctx context.Context, el Element) error {
	return c.callOn(ctx, el, `function() { this.scrollIntoView({block: "center"}); }`, nil)
}

func (c *Chrome) ScrollHeight(ctx context.Context, el Element) (int, error) {
	var h int
	err := c.callOn(ctx, el, `function() { return this.scrollHeight; }`, &h)
	return h, err
}

func (c *Chrome) SetScrollTop(ctx context.Context, el Element, value int) error {
	return c.callOn(ctx, el, fmt.Sprintf(`function() { this.scrollTop = %d; }`, value), nil)
}

func (c *Chrome) SendKeys(ctx context.Context, el Element, keys string) error {
	if el != nil {
		if err := c.callOn(ctx, el, `function() { this.focus(); }`, nil); err != nil {
			return err
		}
	}
	return c.run(ctx, chromedp.KeyEvent(keys))
}

func (c *Chrome) ClearCookies(ctx context.Context) error {
	return c.run(ctx, network.ClearBrowserCookies())
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = chromedp.Cancel(c.ctx)
		c.cancel()
		c.allocCancel()
	})
	return err
}

func (c *Chrome) own(el Element) (*chromeElement, error) {
	ce, ok := el.(*chromeElement)
	if !ok || ce.c != c {
		return nil, fmt.Errorf("element does not belong to this session")
	}
	return ce, nil
}

func (c *Chrome) callOn(ctx context.Context, el Element, fn string, res any) error {
	ce, err := c.own(el)
	if err != nil {
		return err
	}
	return c.run(ctx, callOnNode(ce.node.BackendNodeID, fn, res))
}

// callOnNode evaluates fn with this bound to the node and decodes its return
// value into res. The remote object handle is released afterwards.
func callOnNode(id cdp.BackendNodeID, fn string, res any) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving node %d: %w", id, err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		withObject := func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}
		return chromedp.CallFunctionOn(fn, res, withObject).Do(ctx)
	})
}

type chromeElement struct {
	c    *Chrome
	node *cdp.Node
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.c.callOn(ctx, e, `function() { return (this.innerText || this.textContent || "").trim(); }`, &text)
	return text, err
}

func (e *chromeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	q := strconv.Quote(name)
	fn := fmt.Sprintf(`function() {
		const v = this[%s] ?? this.getAttribute(%s);
		return v == null ? null : String(v);
	}`, q, q)
	var v *string
	if err := e.c.callOn(ctx, e, fn, &v); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.c.callOn(ctx, e, `function() {
		return !!(this.offsetWidth || this.offsetHeight || this.getClientRects().length);
	}`, &visible)
	return visible, err
}

// Find returns the first descendant matching loc without waiting.
// XPath locators are evaluated against the whole document.
func (e *chromeElement) Find(ctx context.Context, loc Locator) (Element, error) {
	els, err := e.FindAll(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return els[0], nil
}

func (e *chromeElement) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	opts := append(queryOptions(loc, true), chromedp.AtLeast(0))
	if loc.By == ByCSS {
		opts = append(opts, chromedp.FromNode(e.node))
	}
	var nodes []*cdp.Node
	if err := e.c.run(ctx, chromedp.Nodes(loc.Query, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("querying %s: %w", loc, err)
	}
	return e.c.wrap(nodes), nil
}

// Identities supplies outbound identities for new sessions.
type Identities interface {
	NextProxy() string
	UserAgent() string
}

// ChromeLauncher starts one Chrome per slot, each with the next proxy and a random user agent.
func ChromeLauncher(base ChromeOptions, ids Identities) Launcher {
	return func(ctx context.Context, slot int) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts := base
		if ids != nil {
			opts.Proxy = ids.NextProxy()
			if ua := ids.UserAgent(); ua != "" {
				opts.UserAgent = ua
			}
		}
		c, err := NewChrome(opts)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		return c, nil
	}
}
