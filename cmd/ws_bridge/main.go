package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/mailtriage/logging"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is what the browser receives for each line the subprocess prints.
type frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// usage: ws_bridge [-addr :8080] -- mailtriage -acp
func main() {
	addr := flag.String("addr", ":8080", "Address to listen on")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cmdArgs := flag.Args()
	if len(cmdArgs) == 0 {
		logger.Fatal("no command given; usage: ws_bridge [-addr :8080] -- mailtriage -acp")
	}

	http.HandleFunc("/ws", handleWS(cmdArgs, logger))
	logger.Info("WebSocket server running", zap.String("url", "ws://localhost"+*addr+"/ws"), zap.Strings("command", cmdArgs))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func handleWS(cmdArgs []string, logger *zap.Logger) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		// Upgrade to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		log := logger.With(zap.String("remote", r.RemoteAddr))

		// One subprocess per connection; it dies with the request.
		cmd := exec.CommandContext(r.Context(), cmdArgs[0], cmdArgs[1:]...)
		cmd.Env = os.Environ()

		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Error("failed to get stdin", zap.Error(err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Error("failed to get stdout", zap.Error(err))
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Error("failed to get stderr", zap.Error(err))
			return
		}

		if err := cmd.Start(); err != nil {
			log.Error("failed to start agent", zap.Error(err))
			return
		}
		log.Info("agent started", zap.Int("pid", cmd.Process.Pid))
		defer func() {
			stdin.Close()
			if err := cmd.Wait(); err != nil {
				log.Info("agent exited", zap.Error(err))
			}
		}()

		// gorilla connections allow one concurrent writer.
		var writeMu sync.Mutex
		pump := func(kind string, rd io.Reader) {
			scanner := bufio.NewScanner(rd)
			scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				msg, _ := json.Marshal(frame{Type: kind, Data: scanner.Text()})
				writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, msg)
				writeMu.Unlock()
				if err != nil {
					log.Debug("ws write failed", zap.Error(err))
					return
				}
			}
		}
		// Pipe agent stdout and stderr → WebSocket
		go pump("stdout", stdout)
		go pump("stderr", stderr)

		// Pipe WebSocket messages → agent stdin
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Debug("ws read ended", zap.Error(err))
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Warn("stdin write failed", zap.Error(err))
				return
			}
		}
	}
}
