package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/site"
)

// Extract is the raw structure pulled out of the calendar DOM: the
// visible day labels and the enabled time buttons, both in DOM order.
type Extract struct {
	Labels []string `json:"labels"`
	Times  []string `json:"times"`
}

// Probe extracts the availability snapshot from a page already navigated
// to a court's scheduling calendar. An empty calendar yields an empty
// snapshot; only an unreachable page or unparseable structure is an error.
func Probe(ctx context.Context, page *rod.Page, catalog *site.Catalog, now time.Time) (Snapshot, error) {
	extract, err := ExtractCalendar(page.Context(ctx), catalog.Selectors)
	if err != nil {
		return nil, fmt.Errorf("calendar extraction failed: %w", err)
	}

	snapshot := Build(catalog, extract.Labels, extract.Times, now)

	log.Debug().
		Int("labels", len(extract.Labels)).
		Int("buttons", len(extract.Times)).
		Int("days", len(snapshot)).
		Msg("Availability probe completed")

	return snapshot, nil
}

// ExtractCalendar reads the visible day labels and time buttons in DOM
// order. Runtime.evaluate with ReturnByValue avoids per-element round
// trips; the page serializes everything in one call.
func ExtractCalendar(page *rod.Page, selectors site.PageSelectors) (*Extract, error) {
	expression := fmt.Sprintf(`(function() {
		var labels = [];
		var times = [];
		try {
			document.querySelectorAll(%q).forEach(function(el) {
				var text = (el.textContent || '').trim();
				if (text) labels.push(text);
			});
			document.querySelectorAll(%q).forEach(function(el) {
				if (el.disabled) return;
				var text = (el.textContent || '').trim();
				if (text) times.push(text);
			});
		} catch(e) {
			// Selector errors leave both lists empty.
		}
		return JSON.stringify({labels: labels, times: times});
	})()`, selectors.DayLabels, selectors.TimeButtons)

	result, err := proto.RuntimeEvaluate{
		Expression:    expression,
		ReturnByValue: true,
	}.Call(page)
	if err != nil {
		return nil, err
	}
	if result.ExceptionDetails != nil {
		return nil, fmt.Errorf("page script threw: %s", result.ExceptionDetails.Text)
	}
	if result.Result.Type != proto.RuntimeRemoteObjectTypeString {
		return nil, fmt.Errorf("unexpected evaluate result type %q", result.Result.Type)
	}

	var extract Extract
	if err := json.Unmarshal([]byte(result.Result.Value.Str()), &extract); err != nil {
		return nil, fmt.Errorf("calendar structure unparseable: %w", err)
	}
	return &extract, nil
}
