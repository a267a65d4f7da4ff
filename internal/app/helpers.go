package app

import (
	"strings"
)

// NormalizeLocalViewer keeps the viewer on localhost and returns the listen
// address and the URL to print.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	return a, "http://" + a
}

func logBanner(role, peerDir, cfgPath string) {
	log.Infow("radyo peer scope", "role", role, "dir", peerDir, "config", cfgPath)
}
