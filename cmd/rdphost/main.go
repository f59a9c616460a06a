// Command rdphost is a thin demonstration host for the engine: it serves
// one HTTP endpoint that upgrades to a WebSocket, dials the requested RDP
// server through internal/host, and relays the session's event stream to
// the browser and the browser's input back into the session. It exists to
// exercise the Host Interface (§4.I) end to end, the way the teacher's
// cmd/server does for its own rdp.Client — not as a production gateway.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rdpengine/core/internal/config"
	"github.com/rdpengine/core/internal/logging"
	"github.com/rdpengine/core/internal/session"
)

var (
	appName    = "RDP Session Engine host"
	appVersion = "dev"
)

// registry is process-wide: every /connect upgrade registers its Host
// under a freshly minted handle, the way §3's HostHandleRegistry is meant
// to be shared across every session a process drives.
var registry = session.NewHostHandleRegistry()

var nextHandle uint64

func allocateHandle() uint64 {
	return atomic.AddUint64(&nextHandle, 1)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address for the demonstration gateway")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	versionFlag := flag.Bool("version", false, "show version")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	logging.SetLevelFromString(*logLevel)

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", connectHandler)

	logging.Info("%s listening on %s", appName, *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil { //nolint:gosec // demonstration entry point, not hardened for internet exposure
		log.Fatal(err)
	}
}

// connectParams are the per-connection settings the browser supplies as
// query parameters, layered over config.DefaultSessionConfig() the same
// way internal/config documents (explicit override > env var > default).
type connectParams struct {
	addr                  string
	tlsServerName         string
	username              string
	domain                string
	password              string
	width, height         uint16
	allowClipboard        bool
	allowDirectorySharing bool
	directoryName         string
	fips                  bool
}

func parseConnectParams(r *http.Request) (connectParams, error) {
	q := r.URL.Query()

	addr := strings.TrimSpace(q.Get("addr"))
	if addr == "" {
		return connectParams{}, fmt.Errorf("missing addr parameter")
	}
	user := strings.TrimSpace(q.Get("user"))
	if user == "" {
		return connectParams{}, fmt.Errorf("missing user parameter")
	}

	def := config.DefaultSessionConfig()
	width, height := def.DesktopWidth, def.DesktopHeight
	if v := q.Get("width"); v != "" {
		if n, err := parseUint16(v); err == nil {
			width = n
		}
	}
	if v := q.Get("height"); v != "" {
		if n, err := parseUint16(v); err == nil {
			height = n
		}
	}

	allowClipboard := def.AllowClipboard
	if v := q.Get("allowClipboard"); v != "" {
		allowClipboard = v == "true"
	}
	allowDirectorySharing := def.AllowDirectorySharing
	if v := q.Get("allowDirectorySharing"); v != "" {
		allowDirectorySharing = v == "true"
	}

	return connectParams{
		addr:                  addr,
		tlsServerName:         strings.TrimSpace(q.Get("tlsServerName")),
		username:              user,
		domain:                strings.TrimSpace(q.Get("domain")),
		password:              q.Get("password"),
		width:                 width,
		height:                height,
		allowClipboard:        allowClipboard,
		allowDirectorySharing: allowDirectorySharing,
		directoryName:         strings.TrimSpace(q.Get("directoryName")),
		fips:                  q.Get("fips") == "true",
	}, nil
}

func parseUint16(s string) (uint16, error) {
	var n uint16
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
