package fetch

// closeCookieBannerScript clicks the first consent button it can find. Known
// selectors first, then any button whose text looks like an accept button.
const closeCookieBannerScript = `(() => {
  const selectors = [
    "button#sp-cc-accept",
    "input#sp-cc-accept",
    'button[name="accept"]',
    'button[aria-label="Accept Cookies"]',
    'button[aria-label="Accept"]',
    'button[data-action="accept"]',
    ".cookie-accept, .cookies-accept, .consent-accept",
  ];
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (el) {
      try { el.click(); } catch (e) {}
      return true;
    }
  }
  const words = ["accept", "agree", "got it"];
  for (const b of document.querySelectorAll("button,input[type=submit]")) {
    const t = (b.textContent || b.value || "").toLowerCase();
    if (words.some((w) => t.includes(w))) {
      try { b.click(); } catch (e) {}
      return true;
    }
  }
  return false;
})()`
