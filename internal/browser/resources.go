package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests for the configured resource types. The
// returned router must be stopped when the tab closes.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	set := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(set, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// shouldBlock maps CDP resource types to config names.
func shouldBlock(set map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	switch lower {
	case "image":
		return set["images"] || set[lower]
	case "font":
		return set["fonts"] || set[lower]
	case "stylesheet":
		return set["stylesheets"] || set[lower]
	}
	return set[lower]
}
