package serialmux

import (
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/qphone/internal/qcfp"
)

var sendFrameTemplate = template.Must(template.New("send-frame").
	Funcs(template.FuncMap{"commandName": qcfp.CommandName}).
	Parse(`<!doctype html>
<html><head><title>QCFP link</title></head>
<body>
<h1>Send frame</h1>
<form method="post" action="send-frame-api">
  <input name="frame" placeholder="41 01" size="64">
  <button type="submit">send</button>
</form>
<p>Known commands:</p>
<ul>{{range .}}<li><code>{{printf "%02x" .}}</code> {{commandName .}}</li>{{end}}</ul>
<h1>Received</h1>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
</script>
</body></html>
`))

var knownCommands = []byte{
	qcfp.CmdDebug, qcfp.CmdAsyncData, qcfp.CmdCalibrate, qcfp.CmdFlightMode,
	qcfp.CmdThrottle, qcfp.CmdAttitude, qcfp.CmdHeight, qcfp.CmdAltitudeHold,
	qcfp.CmdRawMotorControl,
}

// parseHexFrame accepts "41 01", "4101" or "0x41,0x01".
func parseHexFrame(s string) ([]byte, error) {
	r := strings.NewReplacer("0x", "", "0X", "", " ", "", ",", "", ":", "")
	cleaned := r.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, fmt.Errorf("empty frame")
	}
	return hex.DecodeString(cleaned)
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Link", func() any { return fmt.Sprintf("%+v", s.Stats()) })

	// Basic frame sender / live tail interface using the below two endpoints.
	debug.HandleFunc("send-frame", "send a QCFP frame to the control board", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sendFrameTemplate.Execute(w, knownCommands); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-frame-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, err := parseHexFrame(r.FormValue("frame"))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid frame: %v", err), http.StatusBadRequest)
			return
		}
		if err := s.SendPacket(payload); err != nil {
			http.Error(w, fmt.Sprintf("Failed to send frame: %v", err), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %s frame % x", qcfp.CommandName(payload[0]), payload))
	})

	// Server-Sent Events with a hex dump of every chunk read from the port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				line := fmt.Sprintf("% x", chunk)
				if chunk == nil {
					line = "(chunks dropped)"
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
