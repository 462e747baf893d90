package tui

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thobiasn/loglens/internal/logview"
)

// Rows taken by the status bar and the footer.
const chromeHeight = 2

// Options configures the viewer.
type Options struct {
	Range        logview.Range
	PollInterval time.Duration
	FetchTimeout time.Duration
	Location     *time.Location
	Theme        Theme
	Title        string           // shown in the status bar, e.g. the host
	Clock        func() time.Time // nil for time.Now
}

// fetchMsg carries a finished load or merge back to Update.
type fetchMsg struct {
	res logview.Result
}

// pollMsg fires the refresh tick.
type pollMsg struct{}

// App is the root Bubbletea model. The Manager and Viewport are only
// touched from Update and View; fetches run in commands.
type App struct {
	mgr     *logview.Manager
	vp      *logview.Viewport
	src     logview.Source
	theme   Theme
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	title   string

	initial      logview.Range
	pollInterval time.Duration
	fetchTimeout time.Duration

	width    int
	height   int
	showHelp bool
}

// NewApp creates the viewer over src.
func NewApp(src logview.Source, opts Options) App {
	if opts.PollInterval <= 0 {
		opts.PollInterval = logview.PollInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	mopts := []logview.Option{logview.WithLocation(opts.Location)}
	if opts.Clock != nil {
		mopts = append(mopts, logview.WithClock(opts.Clock))
	}

	h := help.New()
	h.Styles.ShortKey = h.Styles.ShortKey.Foreground(opts.Theme.Accent)
	h.Styles.FullKey = h.Styles.FullKey.Foreground(opts.Theme.Accent)

	return App{
		mgr:          logview.NewManager(mopts...),
		vp:           logview.NewViewport(),
		src:          src,
		theme:        opts.Theme,
		keys:         defaultKeyMap(),
		help:         h,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle(opts.Theme))),
		title:        opts.Title,
		initial:      opts.Range,
		pollInterval: opts.PollInterval,
		fetchTimeout: opts.FetchTimeout,
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.fetch(a.mgr.SetRange(a.initial)),
		a.poll(),
		a.spinner.Tick,
	)
}

// fetch runs req against the source with the fetch timeout.
func (a App) fetch(req logview.Request) tea.Cmd {
	src, timeout := a.src, a.fetchTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fetchMsg{res: logview.Fetch(ctx, src, req)}
	}
}

func (a App) poll() tea.Cmd {
	return tea.Tick(a.pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.help.Width = msg.Width
		a.resize()
		return a, nil

	case fetchMsg:
		a.apply(msg.res)
		return a, nil

	case pollMsg:
		cmds := []tea.Cmd{a.poll()}
		if req, ok := a.mgr.Tick(); ok {
			cmds = append(cmds, a.fetch(req))
		}
		return a, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) apply(res logview.Result) {
	change, err := a.mgr.Apply(res)
	switch {
	case errors.Is(err, logview.ErrStaleResponse):
		log.Printf("dropped stale response for [%d, %d)", res.Req.Start, res.Req.End)
	case err != nil:
		// Load failures surface through mgr.Err; merge failures only wait
		// for the next tick.
		log.Printf("fetch failed: %v", err)
	default:
		a.vp.Observe(a.mgr, change)
	}
	a.keys.Retry.SetEnabled(a.mgr.Err() != nil)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Help):
		a.showHelp = !a.showHelp
		a.help.ShowAll = a.showHelp
		a.resize()
	case key.Matches(msg, a.keys.Up):
		a.vp.ScrollBy(a.mgr, -1)
	case key.Matches(msg, a.keys.Down):
		a.vp.ScrollBy(a.mgr, 1)
	case key.Matches(msg, a.keys.PageUp):
		a.vp.PageUp(a.mgr)
	case key.Matches(msg, a.keys.PageDown):
		a.vp.PageDown(a.mgr)
	case key.Matches(msg, a.keys.Top):
		a.vp.Top(a.mgr)
	case key.Matches(msg, a.keys.Bottom):
		a.vp.JumpToBottom(a.mgr)
	case key.Matches(msg, a.keys.Longer):
		return a, a.selectRange(a.mgr.Pending().Next())
	case key.Matches(msg, a.keys.Shorter):
		return a, a.selectRange(a.mgr.Pending().Prev())
	case key.Matches(msg, a.keys.PickRange):
		idx := int(msg.String()[0] - '1')
		return a, a.selectRange(logview.Ranges[idx])
	case key.Matches(msg, a.keys.Retry):
		a.keys.Retry.SetEnabled(false)
		return a, a.fetch(a.mgr.Retry())
	}
	return a, nil
}

// selectRange reloads the window for r unless r is already shown or on
// its way.
func (a *App) selectRange(r logview.Range) tea.Cmd {
	if r == a.mgr.Pending() && a.mgr.Err() == nil {
		return nil
	}
	return a.fetch(a.mgr.SetRange(r))
}

func (a *App) bodyHeight() int {
	h := a.height - chromeHeight
	if a.showHelp {
		h -= fullHelpHeight(a.keys) - 1
	}
	return max(h, 0)
}

func (a *App) resize() {
	a.vp.Resize(a.mgr, a.bodyHeight(), a.width)
}

// fullHelpHeight is the height of the tallest help column.
func fullHelpHeight(k keyMap) int {
	n := 0
	for _, col := range k.FullHelp() {
		n = max(n, len(col))
	}
	return n
}
