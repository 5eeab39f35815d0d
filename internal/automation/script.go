package automation

import (
	"encoding/json"
	"strings"
)

// interactiveSelector 文本查找第一轮扫描的可交互元素
var interactiveSelector = strings.Join([]string{
	"a[href]",
	"button",
	"input[type=submit]",
	"input[type=button]",
	"[role=button]",
	"[role=link]",
	"[onclick]",
}, ", ")

// scriptFindText 在页面内按文本查找元素并写入标记属性，返回命中数量。
// 先扫描可交互元素，有命中则不再考虑普通文本元素；普通元素只保留最内层命中。
const scriptFindText = `function(attr, strategy, needle, interactive) {
  var norm = function (s) { return String(s || '').replace(/\s+/g, ' ').trim().toLowerCase(); };
  var want = norm(needle);
  var match = function (el) {
    var t;
    if (el.tagName === 'INPUT') {
      t = norm(el.value || el.getAttribute('aria-label'));
    } else {
      t = norm(el.innerText || el.textContent);
    }
    switch (strategy) {
    case 'exact': return t === want;
    case 'contains': return t.indexOf(want) !== -1;
    case 'startsWith': return t.indexOf(want) === 0;
    case 'endsWith': return t.length >= want.length && t.slice(t.length - want.length) === want;
    }
    return false;
  };
  var hits = [];
  var list = document.querySelectorAll(interactive);
  for (var i = 0; i < list.length; i++) {
    if (match(list[i])) hits.push(list[i]);
  }
  if (hits.length === 0 && document.body) {
    var all = document.body.querySelectorAll('*');
    for (var j = 0; j < all.length; j++) {
      var el = all[j];
      if (/^(SCRIPT|STYLE|NOSCRIPT|TEMPLATE)$/.test(el.tagName) || !match(el)) continue;
      var inner = false;
      for (var k = 0; k < el.children.length; k++) {
        if (match(el.children[k])) { inner = true; break; }
      }
      if (!inner) hits.push(el);
    }
  }
  for (var h = 0; h < hits.length; h++) hits[h].setAttribute(attr, '');
  return hits.length;
}`

// scriptCleanupMarker 移除所有带 attr 的节点上的标记
const scriptCleanupMarker = `function(attr) {
  var nodes = document.querySelectorAll('[' + attr + ']');
  for (var i = 0; i < nodes.length; i++) nodes[i].removeAttribute(attr);
  return nodes.length;
}`

const scriptHasText = `function(needle) {
  var norm = function (s) { return String(s || '').replace(/\s+/g, ' ').trim().toLowerCase(); };
  var body = document.body ? document.body.innerText : '';
  return norm(body).indexOf(norm(needle)) !== -1;
}`

const (
	exprReadyState   = `document.readyState`
	exprTitle        = `document.title`
	exprContent      = `document.documentElement ? document.documentElement.outerHTML : ''`
	exprBodyText     = `document.body ? document.body.innerText : ''`
	exprElementCount = `document.getElementsByTagName('*').length`
)

// 以下函数通过 Runtime.callFunctionOn 以元素为 this 调用

const fnElementState = `function() {
  var tag = this.tagName ? this.tagName.toLowerCase() : '';
  return {
    tag: tag,
    disabled: !!this.disabled || this.getAttribute('aria-disabled') === 'true',
    editable: !!this.isContentEditable || tag === 'input' || tag === 'textarea' || tag === 'select',
    readOnly: !!this.readOnly,
    type: String(this.type || '').toLowerCase()
  };
}`

const fnElementText = `function() { return this.innerText || this.textContent || ''; }`

const fnElementValue = `function() { return this.value === undefined || this.value === null ? '' : String(this.value); }`

const fnElementChecked = `function() { return !!this.checked; }`

const fnElementCSS = `function(prop) { return window.getComputedStyle(this).getPropertyValue(prop); }`

const fnElementClear = `function() {
  if ('value' in this) {
    this.value = '';
    this.dispatchEvent(new Event('input', { bubbles: true }));
  } else if (this.isContentEditable) {
    this.textContent = '';
  }
}`

// fnElementDescribe 标注用的元素摘要，文本已折叠空白
const fnElementDescribe = `function() {
  var tag = this.tagName ? this.tagName.toLowerCase() : '';
  var text = (this.innerText || this.value || this.getAttribute('aria-label') || this.getAttribute('placeholder') || '');
  return {
    tag: tag,
    text: String(text).replace(/\s+/g, ' ').trim(),
    type: tag === 'input' ? String(this.type || '').toLowerCase() : '',
    href: this.getAttribute('href') || '',
    role: this.getAttribute('role') || ''
  };
}`

// controlSelector 标注时收集的元素：可交互元素加上表单控件
var controlSelector = interactiveSelector + ", input:not([type=hidden]), select, textarea, summary"

// renderCall 把函数声明与参数拼成可直接求值的表达式
func renderCall(fn string, args ...any) string {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte("[]")
	}
	return "(" + fn + ").apply(null, " + string(b) + ")"
}
