package readiness

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultHook is the page-defined function consulted last by the default probe.
const DefaultHook = "isPageFullyLoaded"

const probeTemplate = `(function() {
  if (document.readyState !== 'complete') return 'document_not_ready';
  if (window.jQuery && jQuery.active) return 'ajax_loading';
  var images = Array.from(document.images);
  if (images.some(function(img) { return !img.complete; })) return 'images_loading';
  if (typeof window.%[1]s === 'function' && !window.%[1]s()) return 'custom_loading';
  return 'ready';
})()`

// DefaultProbe checks document state, pending jQuery AJAX, unfinished
// images and the window.isPageFullyLoaded hook, in that order.
var DefaultProbe = mustProbe(DefaultHook)

var hookName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ProbeWithHook builds the default probe around a different custom hook.
func ProbeWithHook(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !hookName.MatchString(name) {
		return "", &ConfigError{Field: "hook", Message: fmt.Sprintf("%q is not a JavaScript identifier", name)}
	}
	return fmt.Sprintf(probeTemplate, name), nil
}

func mustProbe(name string) string {
	p, err := ProbeWithHook(name)
	if err != nil {
		panic(err)
	}
	return p
}
