package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/apperr"
)

// handleChat upgrades the request and runs one chat session on it. The
// credential is read from the token query parameter, falling back to an
// "Authorization: Bearer" header.
func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	credential := r.URL.Query().Get("token")
	if credential == "" {
		credential = bearerToken(r)
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("chat: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, a.connID(), ClientOptions{
		MaxMessageSize: a.cfg.MaxMessageSize,
		RateLimit:      a.cfg.RateLimit,
		Logger:         a.logger,
	})
	go client.writePump()

	if !a.track() {
		client.CloseWith(websocket.CloseGoingAway, "server shutting down")
		<-client.Done()
		return
	}
	defer a.conns.Done()

	err = a.engine.Serve(a.ctx, client, roomID, credential)
	code, text := closeStatus(a.ctx, err)
	if code == websocket.CloseInternalServerErr {
		a.logger.Error("chat: session failed", "room", roomID, "conn", client.ID(), "error", err)
	}
	client.CloseWith(code, text)
	<-client.Done()
}

// closeStatus maps a session result to the websocket close code sent to
// the peer.
func closeStatus(ctx context.Context, err error) (int, string) {
	if err == nil {
		if ctx.Err() != nil {
			return websocket.CloseGoingAway, "server shutting down"
		}
		return websocket.CloseNormalClosure, ""
	}

	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		return websocket.ClosePolicyViolation, "authentication failed"
	case apperr.KindNotFound:
		return websocket.CloseNormalClosure, "room not found"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "RoomChat server is running!")
}

// TestPageHandler serves a small page for trying a room from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat Test</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 8px; overflow-y: auto; margin: 10px 0; background: #fafafa; }
        input { padding: 4px; margin-right: 6px; }
        .notice { color: #777; font-style: italic; }
        .error { color: #a00; }
    </style>
</head>
<body>
    <h1>RoomChat Test</h1>
    <div>
        <input id="username" placeholder="email">
        <input id="password" type="password" placeholder="password">
        <button onclick="login()">Log in</button>
        <span id="who"></span>
    </div>
    <div>
        <input id="room" placeholder="room id">
        <button id="join" onclick="toggle()">Join</button>
    </div>
    <div id="log"></div>
    <div>
        <input id="content" size="60" placeholder="Type a message..." disabled>
        <button id="send" onclick="send()" disabled>Send</button>
    </div>
    <script>
        let token = '';
        let ws = null;
        const log = document.getElementById('log');

        function line(text, cls) {
            const div = document.createElement('div');
            if (cls) div.className = cls;
            div.textContent = text;
            log.appendChild(div);
            log.scrollTop = log.scrollHeight;
        }

        async function login() {
            const body = new URLSearchParams({
                username: document.getElementById('username').value,
                password: document.getElementById('password').value,
            });
            const resp = await fetch('/api/v1/auth/login', { method: 'POST', body });
            const data = await resp.json();
            if (!resp.ok) { line(data.detail.message, 'error'); return; }
            token = data.access_token;
            document.getElementById('who').textContent = 'as ' + data.name;
        }

        function setJoined(joined) {
            document.getElementById('content').disabled = !joined;
            document.getElementById('send').disabled = !joined;
            document.getElementById('join').textContent = joined ? 'Leave' : 'Join';
        }

        function toggle() {
            if (ws) { ws.close(); return; }
            const room = encodeURIComponent(document.getElementById('room').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/api/v1/chat/' + room + '?token=' + encodeURIComponent(token));
            ws.onopen = () => setJoined(true);
            ws.onmessage = (event) => {
                const frame = JSON.parse(event.data);
                if (frame.error) { line(frame.error, 'error'); return; }
                line('[' + frame.timestamp + '] ' + frame.user + ': ' + frame.content);
            };
            ws.onclose = (event) => {
                line('closed (' + event.code + (event.reason ? ' ' + event.reason : '') + ')', 'notice');
                setJoined(false);
                ws = null;
            };
        }

        function send() {
            const input = document.getElementById('content');
            const content = input.value.trim();
            if (!content || !ws) return;
            ws.send(JSON.stringify({ content }));
            line('you: ' + content);
            input.value = '';
        }

        document.getElementById('content').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') send();
        });
    </script>
</body>
</html>`
