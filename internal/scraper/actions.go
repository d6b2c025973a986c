package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jakopako/dealskyr/internal/log"
	"github.com/jakopako/dealskyr/internal/parse"
)

const (
	warmUpSteps      = 20
	warmUpDelay      = 800 * time.Millisecond
	sweepDelay       = 500 * time.Millisecond
	footerSteps      = 3
	footerStepDelay  = 800 * time.Millisecond
	loadMoreDelay    = 3 * time.Second
	scrollStepPixels = 600
)

var cardCountScript = fmt.Sprintf(`document.querySelectorAll(%q).length`, parse.ItemSelector)

var scrollByScript = fmt.Sprintf(`window.scrollBy(0, %d)`, scrollStepPixels)

// sweepScript scrolls to the given fraction of the document height.
func sweepScript(step, steps int) string {
	return fmt.Sprintf(`window.scrollTo(0, Math.floor(document.body.scrollHeight * %d / %d))`, step, steps)
}

// loadMoreScript clicks a visible "more deals" control and reports whether
// it did.
const loadMoreScript = `(() => {
  const wanted = ["view more deals", "see more deals", "load more"];
  const target = Array.from(document.querySelectorAll("a, button, span")).find((el) => {
    const t = (el.textContent || "").trim().toLowerCase();
    return wanted.includes(t);
  });
  if (target && target.offsetParent !== null) {
    target.click();
    return true;
  }
  return false;
})()`

// footerScrollScript moves one step down but keeps the bottom of the
// viewport 200px above the footer. The ceiling is recomputed on every call
// because the page grows while cards load.
var footerScrollScript = fmt.Sprintf(`(() => {
  const footer = document.getElementById("navFooter") ||
    document.querySelector("footer") ||
    document.querySelector(".navLeftFooter") ||
    document.querySelector("#rhf");
  if (!footer) {
    window.scrollBy(0, 500);
    return;
  }
  const footerTop = footer.getBoundingClientRect().top + window.scrollY;
  const maxY = Math.max(0, footerTop - window.innerHeight - 200);
  const y = window.scrollY;
  const next = Math.min(y + %d, maxY);
  if (next > y) {
    window.scrollTo({ top: next, behavior: "smooth" });
  }
})()`, scrollStepPixels)

// evaluate runs a best effort page script. Failures are logged.
func (a *acquisition) evaluate(ctx context.Context, name, script string, res any) bool {
	if err := a.page.Evaluate(ctx, script, res); err != nil {
		log.LoggerFromContext(ctx).Debug(fmt.Sprintf("%s failed", name), slog.String("err", err.Error()))
		return false
	}
	return true
}

// sweep scrolls through the whole page in steps so lazy cards render,
// clicking "load more" whenever it shows up.
func (a *acquisition) sweep(ctx context.Context) error {
	for i := 1; i <= a.SweepSteps; i++ {
		a.evaluate(ctx, "sweep scroll", sweepScript(i, a.SweepSteps), nil)
		a.clickLoadMore(ctx)
		if err := a.sleep(ctx, sweepDelay); err != nil {
			return err
		}
	}
	return nil
}

// warmUp scrolls the top of the page until 1.5 times the wanted number of
// cards is rendered.
func (a *acquisition) warmUp(ctx context.Context) error {
	want := int(math.Ceil(float64(a.limit) * 1.5))
	for range warmUpSteps {
		var count int
		if a.evaluate(ctx, "card count", cardCountScript, &count) && count >= want {
			return nil
		}
		a.evaluate(ctx, "warm-up scroll", scrollByScript, nil)
		if err := a.sleep(ctx, warmUpDelay); err != nil {
			return err
		}
	}
	return nil
}

func (a *acquisition) clickLoadMore(ctx context.Context) bool {
	var clicked bool
	if !a.evaluate(ctx, "load more", loadMoreScript, &clicked) || !clicked {
		return false
	}
	log.LoggerFromContext(ctx).Debug("clicked load more")
	return true
}

func (a *acquisition) scrollTowardFooter(ctx context.Context) error {
	for range footerSteps {
		a.evaluate(ctx, "footer scroll", footerScrollScript, nil)
		if err := a.sleep(ctx, footerStepDelay); err != nil {
			return err
		}
	}
	return nil
}
