// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/zwrange/pkg/config"
	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// defaultReadTimeout is the serial port read timeout. Reads that time out
// return no data and the byte pump simply polls again.
const defaultReadTimeout = 2 * time.Second

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection carries the raw SerialAPI byte stream in binary
// WebSocket messages, as exposed by a serial-to-network bridge.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// Text messages are bridge chatter, not radio bytes
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens the controller's serial port at 8N1
func OpenSerialConnection(portName string, baudRate int, readTimeout time.Duration) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("ZWRANGE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection
func OpenConnection(lc config.LinkConfig) (Connection, string, error) {
	if lc.URL != "" {
		password := ""
		if lc.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(lc.URL, lc.Username, password, lc.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", lc.URL), nil
	}

	if lc.Port != "" {
		conn, err := OpenSerialConnection(lc.Port, lc.Baud, lc.ReadTimeout)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", lc.Port, lc.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// session is an open link to the controller radio
type session struct {
	desc   string
	src    *link.StreamSource
	engine *link.Engine
}

// openSession connects to the radio and wraps it in a transport engine. An
// ACK is sent first so a radio left waiting on an unacknowledged frame from
// a previous run releases it.
func openSession() (*session, error) {
	conn, desc, err := OpenConnection(cfg.Link)
	if err != nil {
		return nil, err
	}

	src := link.NewStreamSource(conn)
	engine := link.NewEngine(src, cfg.LinkEngine(),
		link.WithLogger(logger.Named("link")),
		link.WithMetrics(link.NewMetrics(registry)))

	if _, err := src.Write([]byte{serialapi.ACK}); err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to write to %s: %w", desc, err)
	}

	logger.Info("connected", zap.String("link", desc))
	return &session{desc: desc, src: src, engine: engine}, nil
}

func (s *session) Close() error {
	stats := s.engine.Statistics()
	logger.Debug("link statistics",
		zap.Uint64("frames_sent", stats.FramesSent),
		zap.Uint64("frames_received", stats.FramesReceived),
		zap.Uint64("retries", stats.Retries),
		zap.Uint64("checksum_errors", stats.ChecksumErrors))
	return s.src.Close()
}
