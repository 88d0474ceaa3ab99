package livesurface

import (
	"context"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/conneroisu/sowing/internal/hostpage"
)

// WebSocketPath is where viewers connect.
const WebSocketPath = "/ws"

// Handler serves the viewer page at / and the socket at WebSocketPath.
// Relative links in previews resolve against base, normally the wiki URL.
func (h *Hub) Handler(title, base string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		templ.Handler(viewerPage(title, base, h.Current())).ServeHTTP(w, r)
	})
	mux.HandleFunc("GET "+WebSocketPath, h.HandleWebSocket)
	return mux
}

func viewerPage(title, base, initial string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title><base href="`+templ.EscapeString(base)+`/">`+
			`<style>body{font-family:system-ui,sans-serif;max-width:60rem;margin:1rem auto}`+
			`#status{color:#888;font-size:.8rem}.alert-danger{color:#a00}</style></head><body>`+
			`<div id="status">connecting</div><div id="`+hostpage.PreviewID+`">`+initial+`</div>`+
			`<script>`+viewerScript+`</script></body></html>`)
		return err
	})
}

const viewerScript = `(() => {
  const status = document.getElementById('status');
  const connect = () => {
    const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    const ws = new WebSocket(proto + location.host + '` + WebSocketPath + `');
    ws.onopen = () => { status.textContent = 'live'; };
    ws.onmessage = ev => {
      const msg = JSON.parse(ev.data);
      if (msg.type === 'preview') {
        document.getElementById(msg.target).innerHTML = msg.content;
      } else if (msg.type === 'alert') {
        alert(msg.content);
      }
    };
    ws.onclose = () => { status.textContent = 'disconnected, retrying'; setTimeout(connect, 1000); };
  };
  connect();
})();`
