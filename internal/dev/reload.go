package dev

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/logging"
)

// ReloadPath is where browsers connect for reload notifications.
const ReloadPath = "/_isosplit/reload"

// ReloadMessageType represents the type of reload message.
type ReloadMessageType string

const (
	ReloadTypeFull  ReloadMessageType = "reload"
	ReloadTypeCSS   ReloadMessageType = "css"
	ReloadTypeError ReloadMessageType = "error"
	ReloadTypeClear ReloadMessageType = "clear"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Type  ReloadMessageType `json:"type"`
	Token uint64            `json:"token,omitempty"`
	Code  string            `json:"code,omitempty"`
	Error string            `json:"error,omitempty"`
}

const writeTimeout = 2 * time.Second

// reloadClient serializes writes to one connection.
type reloadClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *reloadClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReloadServer manages WebSocket connections for hot reload. The last error
// is replayed to browsers that connect while a build is broken.
type ReloadServer struct {
	clients  map[*reloadClient]bool
	mu       sync.RWMutex
	lastErr  *ReloadMessage
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewReloadServer creates a new reload server.
func NewReloadServer(logger *zap.Logger) *ReloadServer {
	return &ReloadServer{
		clients: make(map[*reloadClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logging.OrNop(logger).Named("reload"),
	}
}

// ServeHTTP upgrades the request and holds the connection until the browser
// goes away.
func (r *ReloadServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	client := &reloadClient{conn: conn}

	r.mu.Lock()
	r.clients[client] = true
	pending := r.lastErr
	r.mu.Unlock()

	if pending != nil {
		if data, err := json.Marshal(pending); err == nil {
			client.write(data)
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.remove(client)
}

// NotifyReload sends a full page reload message to all clients.
func (r *ReloadServer) NotifyReload(token uint64) {
	r.setError(nil)
	r.broadcast(ReloadMessage{Type: ReloadTypeFull, Token: token})
}

// NotifyCSS asks clients to refresh stylesheets only.
func (r *ReloadServer) NotifyCSS(token uint64) {
	r.setError(nil)
	r.broadcast(ReloadMessage{Type: ReloadTypeCSS, Token: token})
}

// NotifyError shows an error overlay on all clients.
func (r *ReloadServer) NotifyError(token uint64, code, message string) {
	msg := ReloadMessage{Type: ReloadTypeError, Token: token, Code: code, Error: message}
	r.setError(&msg)
	r.broadcast(msg)
}

// ClearError clears the error overlay on all clients.
func (r *ReloadServer) ClearError() {
	r.setError(nil)
	r.broadcast(ReloadMessage{Type: ReloadTypeClear})
}

func (r *ReloadServer) setError(msg *ReloadMessage) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
}

// broadcast sends a message to all connected clients.
func (r *ReloadServer) broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.RLock()
	clients := make([]*reloadClient, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(data); err != nil {
			r.remove(client)
		}
	}
}

func (r *ReloadServer) remove(client *reloadClient) {
	r.mu.Lock()
	delete(r.clients, client)
	r.mu.Unlock()
	client.conn.Close()
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		client.conn.Close()
		delete(r.clients, client)
	}
}

// DevClientScript is injected before </body> of proxied HTML pages.
const DevClientScript = `
<script>
(function() {
    'use strict';

    var delay = 500;
    var overlayId = '__isosplit-overlay';

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + '` + ReloadPath + `');

        ws.onopen = function() {
            delay = 500;
        };

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }

            if (msg.type === 'reload') {
                location.reload();
            } else if (msg.type === 'css') {
                clearOverlay();
                refreshStyles();
            } else if (msg.type === 'error') {
                showOverlay(msg.code, msg.error);
            } else if (msg.type === 'clear') {
                clearOverlay();
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                delay = Math.min(delay * 2, 10000);
                connect();
            }, delay);
        };
    }

    function refreshStyles() {
        document.querySelectorAll('link[rel="stylesheet"]').forEach(function(link) {
            var url = new URL(link.href);
            url.searchParams.set('_t', Date.now());
            link.href = url.toString();
        });
    }

    function showOverlay(code, text) {
        clearOverlay();
        var overlay = document.createElement('div');
        overlay.id = overlayId;
        overlay.style.cssText = 'position:fixed;inset:0;background:rgba(20,20,20,0.94);color:#eee;font:13px/1.5 monospace;padding:32px;overflow:auto;z-index:2147483647;';
        var title = document.createElement('div');
        title.style.cssText = 'color:#ff6b6b;font-size:16px;margin-bottom:16px;';
        title.textContent = 'Build failed' + (code ? ' (' + code + ')' : '');
        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;margin:0;';
        pre.textContent = text;
        overlay.appendChild(title);
        overlay.appendChild(pre);
        document.body.appendChild(overlay);
    }

    function clearOverlay() {
        var overlay = document.getElementById(overlayId);
        if (overlay) {
            overlay.remove();
        }
    }

    connect();
})();
</script>
`
