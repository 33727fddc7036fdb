package browser

// Page-side helpers evaluated by Document. Each returns a plain object so
// results can be read with gson paths. Node marks come in as arguments
// so the attribute names live in one place (package dom).

const jsExists = `(sel) => document.querySelector(sel) !== null`

const jsValue = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return {found: false};
	return {found: true, value: el.value === undefined ? (el.textContent || '') : String(el.value)};
}`

// jsSetValue goes through the prototype setter so frameworks that track
// the value property see the change, then fires the events a user edit
// would.
const jsSetValue = `(sel, v) => {
	const el = document.querySelector(sel);
	if (!el) return {found: false};
	if (el.value === v) return {found: true, changed: false};
	const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
		: el instanceof HTMLSelectElement ? HTMLSelectElement.prototype
		: HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) desc.set.call(el, v); else el.value = v;
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {found: true, changed: true};
}`

const jsCountText = `(sel, text) => {
	let n = 0;
	for (const el of document.querySelectorAll(sel)) {
		if ((el.textContent || '').trim() === text) n++;
	}
	return n;
}`

const jsReplaceText = `(sel, from, to) => {
	if (from === to) return 0;
	let n = 0;
	for (const el of document.querySelectorAll(sel)) {
		if ((el.textContent || '').trim() === from) { el.textContent = to; n++; }
	}
	return n;
}`

const jsSetHidden = `(sel, hidden) => {
	let n = 0;
	for (const el of document.querySelectorAll(sel)) {
		if (el.hidden === hidden) continue;
		el.hidden = hidden;
		n++;
	}
	return n;
}`

const jsDecorate = `(attr, anchor, id, text) => {
	let badge = document.querySelector('[' + attr + '="' + CSS.escape(id) + '"]');
	if (badge) {
		if (badge.textContent === text) return {found: true, changed: false};
		badge.textContent = text;
		return {found: true, changed: true};
	}
	const a = document.querySelector(anchor);
	if (!a) return {found: false};
	badge = document.createElement('span');
	badge.setAttribute(attr, id);
	badge.style.cssText = 'margin-left:8px;padding:2px 6px;border-radius:3px;background:#eef;font-size:12px;';
	badge.textContent = text;
	a.insertAdjacentElement('afterend', badge);
	return {found: true, changed: true};
}`

const jsUndecorate = `(attr, id) => {
	const badge = document.querySelector('[' + attr + '="' + CSS.escape(id) + '"]');
	if (badge) badge.remove();
	return true;
}`

const jsShowNotice = `(attr, id, title, body) => {
	if (document.querySelector('[' + attr + '="' + CSS.escape(id) + '"]')) return false;
	const box = document.createElement('div');
	box.setAttribute(attr, id);
	box.setAttribute('role', 'alert');
	box.style.cssText = 'position:fixed;top:16px;right:16px;z-index:2147483647;max-width:360px;' +
		'padding:12px 16px;background:#fff4e5;border:1px solid #f0a020;border-radius:4px;' +
		'box-shadow:0 2px 8px rgba(0,0,0,.2);font:14px sans-serif;';
	const t = document.createElement('strong');
	t.textContent = title;
	const p = document.createElement('p');
	p.style.margin = '6px 0';
	p.textContent = body;
	const btn = document.createElement('button');
	btn.type = 'button';
	btn.textContent = 'Dismiss';
	btn.addEventListener('click', () => box.remove());
	box.append(t, p, btn);
	document.body.appendChild(box);
	return true;
}`

// jsSelectOption handles a native <select> directly. Anything else is
// treated as a combobox: open it, wait for role=option entries, click.
const jsSelectOption = `async (sel, label) => {
	const want = label.trim().toLowerCase();
	const w = document.querySelector(sel);
	if (!w) return {found: false};
	const norm = (el) => (el.textContent || '').trim().toLowerCase();
	if (w instanceof HTMLSelectElement) {
		const opt = Array.from(w.options).find((o) => norm(o) === want);
		if (!opt) return {found: false};
		if (opt.selected) return {found: true, changed: false};
		const desc = Object.getOwnPropertyDescriptor(HTMLSelectElement.prototype, 'value');
		desc.set.call(w, opt.value);
		w.dispatchEvent(new Event('input', {bubbles: true}));
		w.dispatchEvent(new Event('change', {bubbles: true}));
		return {found: true, changed: true};
	}
	if (norm(w) === want) return {found: true, changed: false};
	w.click();
	for (let i = 0; i < 20; i++) {
		const opt = Array.from(document.querySelectorAll('[role="option"]')).find((o) => norm(o) === want);
		if (opt) { opt.click(); return {found: true, changed: true}; }
		await new Promise((r) => setTimeout(r, 50));
	}
	document.dispatchEvent(new KeyboardEvent('keydown', {key: 'Escape', bubbles: true}));
	return {found: false};
}`
