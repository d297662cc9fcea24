package drivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/dohr-michael/magpie/internal/records"
)

// RodConfig configures the browser driver factory.
type RodConfig struct {
	Profile       Profile
	Visible       bool          // show the browser window (headless otherwise)
	BrowserPath   string        // empty = autodetect via launcher.LookPath
	NavTimeout    time.Duration // page loads and element waits
	StableTimeout time.Duration // DOM settle after clicks
}

// NewRodFactory returns a Factory launching one browser per driver.
func NewRodFactory(cfg RodConfig) Factory {
	return FactoryFunc(func(ctx context.Context) (Driver, error) {
		return newRodDriver(ctx, cfg)
	})
}

// rodDriver drives one headless browser through the county search flow.
type rodDriver struct {
	id       string
	cfg      RodConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	mu        sync.Mutex
	destroyed bool
	searches  int
	startedAt time.Time
}

func newRodDriver(ctx context.Context, cfg RodConfig) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := cfg.BrowserPath
	if path == "" {
		path, _ = launcher.LookPath()
	}
	l := launcher.New().Bin(path).Headless(!cfg.Visible)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	d := &rodDriver{
		id:        "driver_" + uuid.NewString()[:8],
		cfg:       cfg,
		launcher:  l,
		browser:   browser,
		startedAt: time.Now(),
	}

	if err := d.openSearchPage(); err != nil {
		d.Destroy()
		return nil, err
	}

	slog.Info("driver initialized", "driver_id", d.id, "profile", cfg.Profile.Name)
	return d, nil
}

func (d *rodDriver) ID() string { return d.id }

// openSearchPage opens (or re-navigates to) the search entry point and
// clicks through the disclaimer when it shows up.
func (d *rodDriver) openSearchPage() error {
	if d.page == nil {
		page, err := d.browser.Page(proto.TargetCreateTarget{URL: d.cfg.Profile.SearchURL})
		if err != nil {
			return fmt.Errorf("open search page: %w", err)
		}
		d.page = page
	} else {
		if err := d.page.Timeout(d.cfg.NavTimeout).Navigate(d.cfg.Profile.SearchURL); err != nil {
			return fmt.Errorf("open search page: %w", err)
		}
	}

	if err := d.page.Timeout(d.cfg.NavTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("wait search page: %w", err)
	}
	d.passDisclaimer()
	return nil
}

// passDisclaimer clicks the disclaimer button when present. Fresh sessions
// land on the interstitial; reused ones usually skip it.
func (d *rodDriver) passDisclaimer() {
	sel := d.cfg.Profile.Selectors
	if sel.DisclaimerButton == "" {
		return
	}
	btn, err := d.page.Timeout(d.cfg.StableTimeout).Element(sel.DisclaimerButton)
	if err != nil {
		return
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return
	}
	_ = d.page.WaitStable(d.cfg.StableTimeout)
}

// Search runs the full flow: fill form, submit, click into the results, then
// scrape records until done, cancelled, or timed out.
func (d *rodDriver) Search(q records.Query, sig *CancelSignal) ([]records.Record, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, errors.New("driver destroyed")
	}
	d.searches++
	d.mu.Unlock()

	results := []records.Record{}
	err := d.runSearch(q, sig, &results)
	if err != nil {
		if isTimeout(err) {
			// The county site stalls routinely under load. Whatever was
			// scraped before the deadline is still a valid answer.
			slog.Warn("search timed out, keeping partial results",
				"driver_id", d.id, "records", len(results), "error", err)
			return results, nil
		}
		return nil, err
	}
	return results, nil
}

func (d *rodDriver) runSearch(q records.Query, sig *CancelSignal, out *[]records.Record) error {
	sel := d.cfg.Profile.Selectors
	page := d.page.Timeout(d.cfg.NavTimeout)

	d.passDisclaimer()

	if q.Address.Number > 0 && sel.NumberInput != "" {
		if err := d.fillInput(sel.NumberInput, strconv.Itoa(q.Address.Number)); err != nil {
			return err
		}
	}
	if err := d.fillInput(sel.StreetInput, q.Address.Street); err != nil {
		return err
	}
	if q.Address.Directional != "" && sel.DirectionalSelect != "" {
		if el, err := page.Element(sel.DirectionalSelect); err == nil {
			if err := el.Select([]string{q.Address.Directional}, true, rod.SelectorTypeText); err != nil {
				return fmt.Errorf("select directional %q: %w", q.Address.Directional, err)
			}
		}
	}

	btn, err := page.Element(sel.SearchButton)
	if err != nil {
		return fmt.Errorf("search button %q: %w", sel.SearchButton, err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	_ = d.page.WaitStable(d.cfg.StableTimeout)

	// A single hit lands directly on the record page; multiple hits land on
	// a result list whose first link opens the first record.
	if sel.ResultLink != "" && d.landedOnResultList() {
		if link, err := d.page.Timeout(d.cfg.StableTimeout).Element(sel.ResultLink); err == nil {
			if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return fmt.Errorf("open first result: %w", err)
			}
			_ = d.page.WaitStable(d.cfg.StableTimeout)
		}
	}

	for i := 0; i < q.NumResults; i++ {
		if sig.IsSet() {
			slog.Info("search cancelled, keeping partial results",
				"driver_id", d.id, "records", len(*out))
			return nil
		}

		rec, err := d.parseRecord(q.Pages)
		if err != nil {
			return err
		}
		*out = append(*out, rec)
		slog.Debug("record scraped", "driver_id", d.id,
			"record", i+1, "of", q.NumResults, "heading", rec.Heading)

		if i+1 < q.NumResults {
			if err := d.nextRecord(); err != nil {
				// Fewer results than requested; the collected set is complete.
				slog.Debug("no further records", "driver_id", d.id, "records", len(*out))
				return nil
			}
		}
	}
	return nil
}

// landedOnResultList reports whether the search ended on a result list
// rather than directly on a record page. The results banner renders on list
// pages only; profiles without one probe the result link itself.
func (d *rodDriver) landedOnResultList() bool {
	banner := d.cfg.Profile.Selectors.ResultsBanner
	if banner == "" {
		return true
	}
	has, _, err := d.page.Has(banner)
	return err == nil && has
}

// fillInput clears an input and types the value.
func (d *rodDriver) fillInput(selector, value string) error {
	el, err := d.page.Timeout(d.cfg.NavTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("input %q: %w", selector, err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// parseRecord scrapes the heading and each requested page of the record the
// browser is currently on.
func (d *rodDriver) parseRecord(pages []string) (records.Record, error) {
	sel := d.cfg.Profile.Selectors

	var rec records.Record
	heading, err := d.page.Timeout(d.cfg.NavTimeout).Element(sel.RecordHeading)
	if err != nil {
		return rec, fmt.Errorf("record heading %q: %w", sel.RecordHeading, err)
	}
	text, err := heading.Text()
	if err != nil {
		return rec, fmt.Errorf("record heading text: %w", err)
	}
	rec.Heading = strings.Join(strings.Fields(text), " ")

	for _, name := range pages {
		if err := d.openRecordTab(name); err != nil {
			return rec, err
		}
		data, err := d.parseSectionTables()
		if err != nil {
			return rec, err
		}
		rec.PageData.Set(name, data)
	}
	return rec, nil
}

// openRecordTab clicks the navigation entry whose visible text equals the
// page label.
func (d *rodDriver) openRecordTab(label string) error {
	tab, err := d.page.Timeout(d.cfg.NavTimeout).ElementR("a, span, td", "^"+regexp.QuoteMeta(label)+"$")
	if err != nil {
		return fmt.Errorf("record tab %q: %w", label, err)
	}
	if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("open record tab %q: %w", label, err)
	}
	_ = d.page.WaitStable(d.cfg.StableTimeout)
	return nil
}

// parseSectionTables reads the label/value cells of the current record page
// into a map, pairing cells by position.
func (d *rodDriver) parseSectionTables() (map[string]string, error) {
	sel := d.cfg.Profile.Selectors
	page := d.page.Timeout(d.cfg.NavTimeout)

	labels, err := page.Elements(sel.SectionHeading)
	if err != nil {
		return nil, fmt.Errorf("section headings %q: %w", sel.SectionHeading, err)
	}
	values, err := page.Elements(sel.SectionData)
	if err != nil {
		return nil, fmt.Errorf("section data %q: %w", sel.SectionData, err)
	}

	data := make(map[string]string, len(labels))
	for i, lab := range labels {
		if i >= len(values) {
			break
		}
		k, err := lab.Text()
		if err != nil {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		v, err := values[i].Text()
		if err != nil {
			continue
		}
		data[k] = strings.TrimSpace(v)
	}
	return data, nil
}

// nextRecord advances to the next search result. The navigator widget only
// renders on the Parcel page, so go there first.
func (d *rodDriver) nextRecord() error {
	if err := d.openRecordTab(records.PageParcel); err != nil {
		return err
	}
	next, err := d.page.Timeout(d.cfg.NavTimeout).Element(d.cfg.Profile.Selectors.NextRecord)
	if err != nil {
		return fmt.Errorf("next record control %q: %w", d.cfg.Profile.Selectors.NextRecord, err)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("advance record: %w", err)
	}
	_ = d.page.WaitStable(d.cfg.StableTimeout)
	return nil
}

// Reset navigates back to the search page for the next task.
func (d *rodDriver) Reset() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return errors.New("driver destroyed")
	}
	d.mu.Unlock()

	return d.openSearchPage()
}

func (d *rodDriver) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Health{
		DriverID:  d.id,
		Alive:     !d.destroyed,
		Searches:  d.searches,
		StartedAt: d.startedAt,
	}
}

// Destroy closes the browser and its launcher exactly once. Teardown errors
// are swallowed.
func (d *rodDriver) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	slog.Info("driver destroyed", "driver_id", d.id)
}

// isTimeout reports whether err is a navigation or element-wait deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
