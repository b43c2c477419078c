package backend

import (
	"net/http"
	netpprof "net/http/pprof"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// PprofPath is the path of the profiling endpoints below the application root.
const PprofPath = "debug/pprof/"

// PprofContribution serves the runtime profiles at <root>debug/pprof/.
type PprofContribution struct{}

// Configure mounts the profiling endpoints.
func (PprofContribution) Configure(app *Application) error {
	app.Handle(http.MethodGet, PprofPath+"*profile", http.HandlerFunc(servePprof))
	log.Info("Profiling enabled at %s%s", app.Root(), PprofPath)
	return nil
}

// servePprof dispatches on the profile name itself since net/http/pprof only
// resolves names below a fixed /debug/pprof/ prefix.
func servePprof(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(httprouter.ParamsFromContext(r.Context()).ByName("profile"), "/")
	switch name {
	case "":
		netpprof.Index(w, r)
	case "cmdline":
		netpprof.Cmdline(w, r)
	case "profile":
		netpprof.Profile(w, r)
	case "symbol":
		netpprof.Symbol(w, r)
	case "trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Handler(name).ServeHTTP(w, r)
	}
}
