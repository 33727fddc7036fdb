package hook

import (
	"strings"
	"testing"

	"github.com/hazyhaar/pagekeeper/dom"
)

type recorder struct {
	mutations int
	urls      []string
}

func (r *recorder) NotifyMutation() { r.mutations++ }
func (r *recorder) NotifyNavigation(u string) { r.urls = append(r.urls, u) }

func TestDispatch(t *testing.T) {
	var r recorder
	calls := []string{
		`{"op":"mutation","url":"https://app.example.com/sales-orders/1"}`,
		`{"op":"navigate","url":"https://app.example.com/sales-orders/2"}`,
		`{"op":"mutation"}`,
	}
	for _, c := range calls {
		if err := dispatch(c, &r); err != nil {
			t.Fatalf("dispatch(%s): %v", c, err)
		}
	}
	if r.mutations != 2 {
		t.Errorf("mutations: got %d, want 2", r.mutations)
	}
	if len(r.urls) != 1 || r.urls[0] != "https://app.example.com/sales-orders/2" {
		t.Errorf("navigations: got %v", r.urls)
	}
}

func TestDispatchRejects(t *testing.T) {
	var r recorder
	for _, c := range []string{`not json`, `{"op":"navigate"}`, `{"op":"reload","url":"x"}`} {
		if err := dispatch(c, &r); err == nil {
			t.Errorf("dispatch(%s): expected error", c)
		}
	}
	if r.mutations != 0 || len(r.urls) != 0 {
		t.Errorf("rejected calls reached signals: %+v", r)
	}
}

func TestScriptMarks(t *testing.T) {
	// The injected script must ignore the nodes rules create.
	for _, attr := range []string{dom.AttrDecoration, dom.AttrNotice, BindingName} {
		if !strings.Contains(hookJS, attr) {
			t.Errorf("hook.js does not reference %s", attr)
		}
	}
}
