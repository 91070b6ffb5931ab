package portal

import (
	"encoding/json"
	"fmt"
)

// Portal element identifiers. These are the only hard-coded knowledge of the
// 311 page structure; everything else is found by accessible name or label.
const (
	LandingURL = "https://portal.311.nyc.gov/article/?kanumber=KA-01986"

	entryButton       = "Report Illegally Parked Vehicles"
	entryConfirmation = "Report illegal parking."

	problemDetailSelect = "#n311_problemdetailid_select"
	observedLabel       = "Date/Time Observed"
	describeLabel       = "Describe the Problem"
	addAttachment       = "Add Attachment"
	fileInputs          = `input[type="file"]`

	selectAddressTrigger = "#SelectAddressWhere"
	addressSearchInput   = "#address-search-box-input"
	addressSuggestion    = ".ui-autocomplete .ui-menu-item-wrapper"
	selectAddressButton  = "Select Address"

	nextButton           = "Next"
	completeSubmitButton = "Complete and Submit"
	trackingNumberField  = "#n311_name"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// visibleHelper is prepended to scripts that look elements up by what a user
// would see. Hidden duplicates (the portal renders some buttons twice) are
// skipped, as is anything behind an open modal (aria-hidden or inert).
const visibleHelper = `
const __visible = (el) => !!el && !el.disabled && el.offsetParent !== null &&
	getComputedStyle(el).visibility !== 'hidden' &&
	!el.closest('[aria-hidden="true"], [inert]');
const __name = (el) => (el.innerText || el.value || el.getAttribute('aria-label') || '').trim();
`

// clickButtonScript clicks the visible button-like element whose accessible
// name is exactly name. When several match, the last one in document order
// wins: dialogs are appended after the page content, so a dialog's confirm
// button beats the page button that opened it. It evaluates to true once
// clicked.
func clickButtonScript(name string) string {
	return fmt.Sprintf(`(() => {%s
	const want = %s;
	const candidates = Array.from(document.querySelectorAll('button, input[type="button"], input[type="submit"], a[role="button"], [role="button"]'))
		.filter((el) => __name(el) === want && __visible(el));
	if (candidates.length === 0) { return false; }
	candidates[candidates.length - 1].click();
	return true;
})()`, visibleHelper, jsString(name))
}

// clickTextScript clicks the first visible element whose own text is exactly text.
func clickTextScript(text string) string {
	return fmt.Sprintf(`(() => {%s
	const want = %s;
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
	while (walker.nextNode()) {
		const el = walker.currentNode;
		const own = Array.from(el.childNodes)
			.filter((n) => n.nodeType === Node.TEXT_NODE)
			.map((n) => n.textContent).join('').trim();
		if (own === want && __visible(el)) { el.click(); return true; }
	}
	return false;
})()`, visibleHelper, jsString(text))
}

// selectOptionScript picks the option labelled label in the select matched by
// selector and fires the change events the portal listens for.
func selectOptionScript(selector, label string) string {
	return fmt.Sprintf(`(() => {
	const sel = document.querySelector(%s);
	if (!sel) return false;
	const want = %s;
	const opt = Array.from(sel.options).find((o) => o.text.trim() === want);
	if (!opt) return false;
	sel.value = opt.value;
	sel.dispatchEvent(new Event('input', { bubbles: true }));
	sel.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`, jsString(selector), jsString(label))
}

// fillByLabelScript writes value into the control associated with the label
// containing labelText.
func fillByLabelScript(labelText, value string) string {
	return fmt.Sprintf(`(() => {
	const want = %s;
	const label = Array.from(document.querySelectorAll('label'))
		.find((l) => l.textContent.replace(/\s+/g, ' ').includes(want));
	if (!label) return false;
	const el = label.htmlFor ? document.getElementById(label.htmlFor)
		: label.querySelector('input, textarea, select');
	if (!el) return false;
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	el.blur();
	return true;
})()`, jsString(labelText), jsString(value))
}

const documentCompleteScript = `document.readyState === 'complete'`

const busyClearedScript = `(() => {
	const busy = document.querySelectorAll('.blockUI, .loading, .spinner, [aria-busy="true"]');
	return !Array.from(busy).some((el) => el.offsetParent !== null);
})()`

const addressSearchDisabledScript = `(() => {
	const el = document.querySelector('#address-search-box-input');
	return !!el && (el.disabled || el.readOnly || el.getAttribute('aria-disabled') === 'true');
})()`

const recaptchaPresentScript = `!!document.querySelector('[data-sitekey], iframe[src*="recaptcha"]')`

// siteKeyScript reads the reCAPTCHA site key from a data-sitekey attribute,
// falling back to the k parameter of the widget iframe.
const siteKeyScript = `(() => {
	const holder = document.querySelector('[data-sitekey]');
	if (holder && holder.getAttribute('data-sitekey')) return holder.getAttribute('data-sitekey');
	const frame = document.querySelector('iframe[title="reCAPTCHA"], iframe[src*="recaptcha"]');
	if (frame && frame.src) {
		try { return new URL(frame.src).searchParams.get('k') || ''; } catch (e) {}
	}
	return '';
})()`

// injectResult reports what injectTokenScript managed to do.
type injectResult struct {
	Fields    int `json:"fields"`
	Callbacks int `json:"callbacks"`
}

// injectTokenScript writes token into every g-recaptcha-response field and
// invokes any registered widget callbacks. Callback discovery walks the
// widget's private config and is best-effort.
func injectTokenScript(token string) string {
	return fmt.Sprintf(`((token) => {
	const fields = Array.from(document.querySelectorAll('#g-recaptcha-response, [name="g-recaptcha-response"]'));
	for (const f of fields) {
		f.value = token;
		f.innerHTML = token;
		f.dispatchEvent(new Event('input', { bubbles: true }));
		f.dispatchEvent(new Event('change', { bubbles: true }));
	}
	let callbacks = 0;
	const seen = new Set();
	const visit = (obj, depth) => {
		if (!obj || typeof obj !== 'object' || depth > 5 || seen.has(obj)) return;
		seen.add(obj);
		for (const key of Object.keys(obj)) {
			let v;
			try { v = obj[key]; } catch (e) { continue; }
			if (key === 'callback') {
				const fn = typeof v === 'function' ? v : (typeof v === 'string' ? window[v] : null);
				if (typeof fn === 'function') {
					try { fn(token); callbacks++; } catch (e) {}
				}
			} else if (v && typeof v === 'object' && !(v instanceof Node)) {
				visit(v, depth + 1);
			}
		}
	};
	try {
		const clients = (window.___grecaptcha_cfg && window.___grecaptcha_cfg.clients) || {};
		for (const id of Object.keys(clients)) visit(clients[id], 0);
	} catch (e) {}
	return { fields: fields.length, callbacks: callbacks };
})(%s)`, jsString(token))
}
