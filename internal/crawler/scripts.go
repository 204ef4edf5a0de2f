package crawler

const detectSPAJS = `() => !!(
	window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot], #__next') ||
	window.__VUE__ || document.querySelector('[data-v-app]') ||
	window.ng || document.querySelector('[ng-version], app-root') ||
	document.querySelector('[class*="svelte-"]')
)`

const countInteractiveJS = `() => Array.from(document.querySelectorAll(
	'button, [role="button"], input:not([type="hidden"]), textarea, a[href]'
)).filter(el => el.offsetParent).length`

// extractJS returns {url, title, elements, navigation}. Selectors prefer ids, then names,
// then unique class pairs, then an nth-child path.
const extractJS = `() => {
	const cssSafe = s => !!s && !/^-?[0-9]/.test(s) && !/[.:#\[\]()>~+*\/\\]/.test(s);
	const selectorFor = el => {
		if (cssSafe(el.id)) return '#' + el.id;
		if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';
		if (typeof el.className === 'string') {
			const cls = el.className.trim().split(/\s+/).filter(cssSafe).slice(0, 2);
			if (cls.length) {
				const sel = el.tagName.toLowerCase() + '.' + cls.join('.');
				try { if (document.querySelectorAll(sel).length === 1) return sel; } catch (e) {}
			}
		}
		const parent = el.parentElement;
		if (!parent) return el.tagName.toLowerCase();
		const nth = Array.from(parent.children).indexOf(el) + 1;
		return selectorFor(parent) + ' > ' + el.tagName.toLowerCase() + ':nth-child(' + nth + ')';
	};
	const label = el => (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 60);

	const groups = [
		['button, [role="button"], input[type="submit"], input[type="button"]', () => 'button'],
		['input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea', el => el.type || 'text'],
		['a[href]:not([href^="#"]):not([href^="javascript:"])', () => 'link'],
		['select', () => 'select'],
	];
	const seen = new Set();
	const elements = [];
	for (const [query, kind] of groups) {
		for (const el of document.querySelectorAll(query)) {
			if (!el.offsetParent) continue;
			const selector = selectorFor(el);
			if (seen.has(selector)) continue;
			seen.add(selector);
			elements.push({
				selector, type: kind(el), text: label(el),
				placeholder: el.placeholder || '', name: el.name || '', id: el.id || '',
			});
		}
	}

	const hrefs = new Set();
	const navigation = [];
	for (const el of document.querySelectorAll('nav a, header a, [role="navigation"] a')) {
		const href = el.getAttribute('href');
		if (!el.offsetParent || !href || href === '#' || href.startsWith('javascript:') || hrefs.has(href)) continue;
		hrefs.add(href);
		navigation.push({
			selector: el.id ? '#' + el.id : 'a[href="' + href + '"]',
			text: (el.textContent || '').trim().slice(0, 30),
			href,
		});
	}
	return {url: location.href, title: document.title, elements, navigation};
}`
