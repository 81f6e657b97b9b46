package flight

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts controller debug pages under /debug/.
func (c *Core) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("State", func() any { return c.status.State() })
	debug.KVFunc("Controller", func() any {
		st := c.loop.Stats()
		return fmt.Sprintf("cycles=%d cells=%v zero_activation=%d", st.Cycles, st.Cells, st.ZeroActivation)
	})
	debug.HandleFunc("flight", "Flight core status as JSON", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c.Status()); err != nil {
			logf("encode status: %v", err)
		}
	})
}
